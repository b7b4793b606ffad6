package sentiment

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

var (
	strongThreshold = decimal.NewFromInt(60)
	midThreshold    = decimal.NewFromInt(50)
	hundred         = decimal.NewFromInt(100)
)

// percentagePlaces is the precision stored for derived percentages
const percentagePlaces = 4

// Label classifies a percentage. Every stored label goes through here.
// Callers pass the rounded percentage from Percentage, so a ratio within
// 0.00005 below a threshold labels as the higher band; the label always
// agrees with the stored four-place value.
func Label(pct decimal.NullDecimal) models.Label {
	if !pct.Valid {
		return models.LabelUnknown
	}
	switch {
	case pct.Decimal.GreaterThanOrEqual(strongThreshold):
		return models.LabelStrong
	case pct.Decimal.GreaterThanOrEqual(midThreshold):
		return models.LabelMid
	default:
		return models.LabelWeak
	}
}

// LabelFloat classifies a float percentage; NaN is unknown.
func LabelFloat(pct float64) models.Label {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return models.LabelUnknown
	}
	return Label(decimal.NewNullDecimal(decimal.NewFromFloat(pct)))
}

// Percentage returns part/whole*100 rounded to the stored precision, or an
// invalid value when whole is not positive.
func Percentage(part, whole int) decimal.NullDecimal {
	if whole <= 0 {
		return decimal.NullDecimal{}
	}
	pct := decimal.NewFromInt(int64(part)).
		Mul(hundred).
		DivRound(decimal.NewFromInt(int64(whole)), percentagePlaces)
	return decimal.NewNullDecimal(pct)
}
