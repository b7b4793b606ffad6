package sentiment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// Ledger maintains the authoritative sector observations
type Ledger struct {
	e *Engine
}

// Snapshot is every sector's observation for one date
type Snapshot struct {
	Date         time.Time                   `json:"date"`
	Observations []*models.SectorObservation `json:"observations"`
	Missing      []models.Sector             `json:"missing_sectors"`
	// ListedValues relates each observed sector's positives to its number of
	// listed companies.
	ListedValues []ListedValue `json:"listed_values"`
}

// ListedValue is positive count / listed companies * 100 for one sector.
// Value is invalid when the sector has no listed company count.
type ListedValue struct {
	Sector          models.Sector       `json:"sector"`
	ListedCompanies int                 `json:"listed_companies"`
	Value           decimal.NullDecimal `json:"value"`
}

// ListedValueOf computes the listed-company value for an observation
func ListedValueOf(o *models.SectorObservation) ListedValue {
	listed := o.Sector.Info().ListedCompanies
	return ListedValue{
		Sector:          o.Sector,
		ListedCompanies: listed,
		Value:           Percentage(o.PositiveCount, listed),
	}
}

// Upsert validates input, derives the percentage and label, replaces any
// observation with the same sector and date, and re-evaluates the market
// aggregate for that date in the same transaction.
func (l *Ledger) Upsert(ctx context.Context, in models.SectorInput) (*models.SectorObservation, Recomputation, error) {
	obs, err := l.build(in)
	if err != nil {
		return nil, Recomputation{}, err
	}

	var rec Recomputation
	err = l.e.withinDate(ctx, obs.Date, func(tx Store) error {
		now := l.e.now()
		obs.CreatedAt = now
		obs.UpdatedAt = now
		if err := tx.PutSectorObservation(ctx, obs); err != nil {
			return l.e.storageErr("put sector observation", err)
		}

		var err error
		rec, err = l.e.Aggregator.recomputeTx(ctx, tx, obs.Date)
		return err
	})
	if err != nil {
		return nil, Recomputation{}, l.e.storageErr("upsert sector observation", err)
	}

	l.e.log.Info().
		Str("sector", string(obs.Sector)).
		Str("date", models.DateKey(obs.Date)).
		Str("label", string(obs.Label)).
		Int("missing_sectors", len(rec.Missing)).
		Msg("sector observation saved")

	l.e.publish(ctx, append([]models.ChangeEvent{{
		EventType:   models.EventSectorUpserted,
		Date:        obs.Date,
		Sector:      obs.Sector,
		Observation: obs,
		Timestamp:   l.e.now(),
	}}, rec.events(l.e.now())...)...)

	return obs, rec, nil
}

// Delete removes the observation for sector on date and re-evaluates the
// market aggregate. A miss reports false and changes nothing.
func (l *Ledger) Delete(ctx context.Context, sector models.Sector, date time.Time) (bool, Recomputation, error) {
	if err := l.checkSector(sector); err != nil {
		return false, Recomputation{}, err
	}
	date, err := validateDate(date)
	if err != nil {
		return false, Recomputation{}, err
	}

	var (
		removed bool
		rec     Recomputation
	)
	err = l.e.withinDate(ctx, date, func(tx Store) error {
		var err error
		removed, err = tx.DeleteSectorObservation(ctx, sector, date)
		if err != nil {
			return l.e.storageErr("delete sector observation", err)
		}
		if !removed {
			return nil
		}
		rec, err = l.e.Aggregator.recomputeTx(ctx, tx, date)
		return err
	})
	if err != nil {
		return false, Recomputation{}, l.e.storageErr("delete sector observation", err)
	}
	if !removed {
		return false, Recomputation{Date: date}, nil
	}

	l.e.log.Info().
		Str("sector", string(sector)).
		Str("date", models.DateKey(date)).
		Bool("market_withdrawn", rec.Withdrawn).
		Msg("sector observation deleted")

	l.e.publish(ctx, append([]models.ChangeEvent{{
		EventType: models.EventSectorDeleted,
		Date:      date,
		Sector:    sector,
		Timestamp: l.e.now(),
	}}, rec.events(l.e.now())...)...)

	return true, rec, nil
}

// ListBySector returns every observation for sector, newest date first
func (l *Ledger) ListBySector(ctx context.Context, sector models.Sector) ([]*models.SectorObservation, error) {
	if err := l.checkSector(sector); err != nil {
		return nil, err
	}
	obs, err := l.e.store.ListSectorObservations(ctx, sector)
	if err != nil {
		return nil, l.e.storageErr("list sector observations", err)
	}
	return obs, nil
}

// GetOnDate returns the observation for sector on date, if any
func (l *Ledger) GetOnDate(ctx context.Context, sector models.Sector, date time.Time) (*models.SectorObservation, bool, error) {
	if err := l.checkSector(sector); err != nil {
		return nil, false, err
	}
	date, err := validateDate(date)
	if err != nil {
		return nil, false, err
	}
	obs, ok, err := l.e.store.GetSectorObservation(ctx, sector, date)
	if err != nil {
		return nil, false, l.e.storageErr("get sector observation", err)
	}
	return obs, ok, nil
}

// Snapshot returns the observations on date in sector order along with the
// sectors that have not reported yet.
func (l *Ledger) Snapshot(ctx context.Context, date time.Time) (*Snapshot, error) {
	date, err := validateDate(date)
	if err != nil {
		return nil, err
	}
	obs, err := l.e.store.ListObservationsOnDate(ctx, date)
	if err != nil {
		return nil, l.e.storageErr("list observations on date", err)
	}

	bySector := make(map[models.Sector]*models.SectorObservation, len(obs))
	for _, o := range obs {
		bySector[o.Sector] = o
	}

	snap := &Snapshot{
		Date:         date,
		Observations: []*models.SectorObservation{},
		Missing:      []models.Sector{},
		ListedValues: []ListedValue{},
	}
	for _, s := range l.e.sectors {
		if o, ok := bySector[s]; ok {
			snap.Observations = append(snap.Observations, o)
			snap.ListedValues = append(snap.ListedValues, ListedValueOf(o))
		} else {
			snap.Missing = append(snap.Missing, s)
		}
	}
	return snap, nil
}

func (l *Ledger) checkSector(sector models.Sector) error {
	if !models.ContainsSector(l.e.sectors, sector) {
		return invalid("sector", "unknown sector %q", sector)
	}
	return nil
}

func (l *Ledger) build(in models.SectorInput) (*models.SectorObservation, error) {
	if err := l.checkSector(in.Sector); err != nil {
		return nil, err
	}
	date, err := validateDate(in.Date)
	if err != nil {
		return nil, err
	}

	counts := []struct {
		field string
		value int
	}{
		{"positive_count", in.PositiveCount},
		{"negative_count", in.NegativeCount},
		{"unchanged_count", in.UnchangedCount},
		{"total_count", in.TotalCount},
	}
	for _, c := range counts {
		if c.value < 0 {
			return nil, invalid(c.field, "must not be negative, got %d", c.value)
		}
	}

	reported := in.PositiveCount + in.NegativeCount + in.UnchangedCount
	total := in.TotalCount
	if total == 0 {
		total = reported
	}
	if total <= 0 {
		return nil, invalid("total_count", "must be greater than zero")
	}
	if reported > total {
		return nil, invalid("total_count", "%d is less than positive+negative+unchanged (%d)", total, reported)
	}

	pct := Percentage(in.PositiveCount, total)
	return &models.SectorObservation{
		Sector:             in.Sector,
		Date:               date,
		PositiveCount:      in.PositiveCount,
		NegativeCount:      in.NegativeCount,
		UnchangedCount:     in.UnchangedCount,
		TotalCount:         total,
		PositivePercentage: pct,
		Label:              Label(pct),
	}, nil
}
