package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date format used for storage keys and the API
const DateLayout = "2006-01-02"

// Label constants
const (
	LabelStrong  Label = "strong"
	LabelMid     Label = "mid"
	LabelWeak    Label = "weak"
	LabelUnknown Label = "unknown"
)

// Label is the sentiment classification of a percentage
type Label string

// Valid reports whether l is one of the four known labels
func (l Label) Valid() bool {
	switch l {
	case LabelStrong, LabelMid, LabelWeak, LabelUnknown:
		return true
	}
	return false
}

// Market state constants
const (
	// MarketStateComputed means every sector reported but the market total
	// stock count has not been supplied yet.
	MarketStateComputed MarketState = "computed"
	// MarketStateFinalized means the percentage and label are known.
	MarketStateFinalized MarketState = "finalized"
)

// MarketState tracks where a stored market observation is in its lifecycle.
// A date with no stored observation is absent.
type MarketState string

// SectorInput is the raw data entered for one sector on one trading date
type SectorInput struct {
	Sector         Sector    `json:"sector"`
	Date           time.Time `json:"date"`
	PositiveCount  int       `json:"positive_count"`
	NegativeCount  int       `json:"negative_count"`
	UnchangedCount int       `json:"unchanged_count"`
	TotalCount     int       `json:"total_count,omitempty"`
}

// SectorObservation is one sector's advance/decline report for a trading date
type SectorObservation struct {
	Sector             Sector              `json:"sector"`
	Date               time.Time           `json:"date"`
	PositiveCount      int                 `json:"positive_count"`
	NegativeCount      int                 `json:"negative_count"`
	UnchangedCount     int                 `json:"unchanged_count"`
	TotalCount         int                 `json:"total_count"`
	PositivePercentage decimal.NullDecimal `json:"positive_percentage"`
	Label              Label               `json:"label"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// MarketObservation is the market-wide aggregate for a trading date
type MarketObservation struct {
	Date                     time.Time           `json:"date"`
	TotalPositive            int                 `json:"total_positive"`
	TotalStock               *int                `json:"total_stock"`
	PositiveChangePercentage decimal.NullDecimal `json:"positive_change_percentage"`
	Label                    Label               `json:"label"`
	State                    MarketState         `json:"state"`
	SectorCount              int                 `json:"sector_count"`
	CreatedAt                time.Time           `json:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at"`
}

// SameFigures reports whether two market observations carry the same derived
// values, ignoring timestamps.
func (m *MarketObservation) SameFigures(other *MarketObservation) bool {
	if m == nil || other == nil {
		return m == other
	}
	if !m.Date.Equal(other.Date) || m.TotalPositive != other.TotalPositive ||
		m.Label != other.Label || m.State != other.State || m.SectorCount != other.SectorCount {
		return false
	}
	if (m.TotalStock == nil) != (other.TotalStock == nil) {
		return false
	}
	if m.TotalStock != nil && *m.TotalStock != *other.TotalStock {
		return false
	}
	if m.PositiveChangePercentage.Valid != other.PositiveChangePercentage.Valid {
		return false
	}
	return !m.PositiveChangePercentage.Valid ||
		m.PositiveChangePercentage.Decimal.Equal(other.PositiveChangePercentage.Decimal)
}

// NormalizeDate strips the time component, keeping the calendar date in UTC
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD). RFC3339 timestamps are
// accepted and truncated to their calendar date.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return NormalizeDate(t), nil
}

// DateKey formats a date as its storage key
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
