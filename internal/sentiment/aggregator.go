package sentiment

import (
	"context"
	"errors"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// Aggregator enforces the completeness gate and owns the market observations
type Aggregator struct {
	e *Engine
}

// Recomputation describes the outcome of re-evaluating one date
type Recomputation struct {
	Date time.Time `json:"date"`
	// Market is the stored aggregate, nil when the date is not computable.
	Market *models.MarketObservation `json:"market,omitempty"`
	// Missing lists sectors with no observation on Date.
	Missing []models.Sector `json:"missing_sectors,omitempty"`
	// Withdrawn is set when a stored aggregate was removed because the date
	// is no longer complete.
	Withdrawn bool `json:"withdrawn"`
	// Changed is set when the stored aggregate was created or updated.
	Changed bool `json:"changed"`
}

// Warning returns the incomplete data warning for the date, or nil when
// every sector has reported.
func (r Recomputation) Warning() *IncompleteDataWarning {
	if len(r.Missing) == 0 {
		return nil
	}
	return &IncompleteDataWarning{Date: r.Date, Missing: r.Missing}
}

func (r Recomputation) events(now time.Time) []models.ChangeEvent {
	switch {
	case r.Withdrawn:
		return []models.ChangeEvent{{
			EventType:      models.EventMarketWithdrawn,
			Date:           r.Date,
			MissingSectors: r.Missing,
			Timestamp:      now,
		}}
	case r.Changed && r.Market != nil:
		eventType := models.EventMarketComputed
		if r.Market.State == models.MarketStateFinalized {
			eventType = models.EventMarketFinalized
		}
		return []models.ChangeEvent{{
			EventType: eventType,
			Date:      r.Date,
			Market:    r.Market,
			Timestamp: now,
		}}
	}
	return nil
}

// Recompute re-evaluates the market aggregate for date. When any sector is
// missing the result has no Market and any stored aggregate is withdrawn.
func (a *Aggregator) Recompute(ctx context.Context, date time.Time) (Recomputation, error) {
	date, err := validateDate(date)
	if err != nil {
		return Recomputation{}, err
	}

	var rec Recomputation
	err = a.e.withinDate(ctx, date, func(tx Store) error {
		var err error
		rec, err = a.recomputeTx(ctx, tx, date)
		return err
	})
	if err != nil {
		return Recomputation{}, a.e.storageErr("recompute market observation", err)
	}

	a.e.publish(ctx, rec.events(a.e.now())...)
	return rec, nil
}

// RecomputeAll re-evaluates every date that has a sector or market
// observation and returns the number of dates evaluated. Each date commits on
// its own; failures are collected and the remaining dates still run.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	sectorDates, err := a.e.store.ListObservationDates(ctx)
	if err != nil {
		return 0, a.e.storageErr("list observation dates", err)
	}
	marketDates, err := a.e.store.ListMarketDates(ctx)
	if err != nil {
		return 0, a.e.storageErr("list market dates", err)
	}

	seen := make(map[string]bool)
	var (
		touched int
		errs    []error
	)
	for _, date := range append(sectorDates, marketDates...) {
		key := models.DateKey(date)
		if seen[key] {
			continue
		}
		seen[key] = true

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := a.Recompute(ctx, date); err != nil {
			a.e.log.Error().Err(err).Str("date", key).Msg("recompute failed")
			errs = append(errs, err)
			continue
		}
		touched++
	}

	a.e.log.Info().Int("dates", touched).Int("failed", len(errs)).Msg("recomputed market observations")
	return touched, errors.Join(errs...)
}

// SupplyTotalStock records the operator-entered market total stock for date
// and finalizes the aggregate. Only valid under the manual policy.
func (a *Aggregator) SupplyTotalStock(ctx context.Context, date time.Time, totalStock int) (*models.MarketObservation, error) {
	if a.e.policy != TotalStockManual {
		return nil, invalid("total_stock", "market total stock is derived from sectors under the %s policy", a.e.policy)
	}
	if totalStock <= 0 {
		return nil, invalid("total_stock", "must be greater than zero")
	}
	date, err := validateDate(date)
	if err != nil {
		return nil, err
	}

	var (
		market   *models.MarketObservation
		rec      Recomputation
		finalize bool
	)
	err = a.e.withinDate(ctx, date, func(tx Store) error {
		var err error
		rec, err = a.recomputeTx(ctx, tx, date)
		if err != nil {
			return err
		}
		if rec.Market == nil {
			return nil
		}
		if totalStock < rec.Market.TotalPositive {
			return invalid("total_stock", "%d is less than total positive %d", totalStock, rec.Market.TotalPositive)
		}

		m := *rec.Market
		a.applyTotalStock(&m, totalStock)
		if m.SameFigures(rec.Market) {
			market = rec.Market
			return nil
		}
		m.UpdatedAt = a.e.now()
		if err := tx.PutMarketObservation(ctx, &m); err != nil {
			return a.e.storageErr("put market observation", err)
		}
		market = &m
		finalize = true
		return nil
	})
	if err != nil {
		return nil, a.e.storageErr("supply total stock", err)
	}

	a.e.publish(ctx, rec.events(a.e.now())...)
	if rec.Market == nil {
		return nil, rec.Warning()
	}
	if finalize {
		a.e.log.Info().Str("date", models.DateKey(date)).Int("total_stock", totalStock).Msg("market observation finalized")
		a.e.publish(ctx, models.ChangeEvent{
			EventType: models.EventMarketFinalized,
			Date:      date,
			Market:    market,
			Timestamp: a.e.now(),
		})
	}
	return market, nil
}

// DeleteMarket removes the stored aggregate for date. The next sector write
// on that date recreates it if the date is complete.
func (a *Aggregator) DeleteMarket(ctx context.Context, date time.Time) (bool, error) {
	date, err := validateDate(date)
	if err != nil {
		return false, err
	}

	var removed bool
	err = a.e.withinDate(ctx, date, func(tx Store) error {
		var err error
		removed, err = tx.DeleteMarketObservation(ctx, date)
		return err
	})
	if err != nil {
		return false, a.e.storageErr("delete market observation", err)
	}
	if removed {
		a.e.publish(ctx, models.ChangeEvent{
			EventType: models.EventMarketWithdrawn,
			Date:      date,
			Timestamp: a.e.now(),
		})
	}
	return removed, nil
}

// GetMarket returns the stored aggregate for date, if any
func (a *Aggregator) GetMarket(ctx context.Context, date time.Time) (*models.MarketObservation, bool, error) {
	date, err := validateDate(date)
	if err != nil {
		return nil, false, err
	}
	m, ok, err := a.e.store.GetMarketObservation(ctx, date)
	if err != nil {
		return nil, false, a.e.storageErr("get market observation", err)
	}
	return m, ok, nil
}

// ListMarket returns every stored aggregate, newest date first
func (a *Aggregator) ListMarket(ctx context.Context) ([]*models.MarketObservation, error) {
	ms, err := a.e.store.ListMarketObservations(ctx)
	if err != nil {
		return nil, a.e.storageErr("list market observations", err)
	}
	return ms, nil
}

// recomputeTx must run inside withinDate for date.
func (a *Aggregator) recomputeTx(ctx context.Context, tx Store, date time.Time) (Recomputation, error) {
	rec := Recomputation{Date: date}

	obs, err := tx.ListObservationsOnDate(ctx, date)
	if err != nil {
		return rec, a.e.storageErr("list observations on date", err)
	}
	existing, exists, err := tx.GetMarketObservation(ctx, date)
	if err != nil {
		return rec, a.e.storageErr("get market observation", err)
	}

	bySector := make(map[models.Sector]*models.SectorObservation, len(obs))
	for _, o := range obs {
		bySector[o.Sector] = o
	}

	var totalPositive, totalCount int
	for _, s := range a.e.sectors {
		o, ok := bySector[s]
		if !ok {
			rec.Missing = append(rec.Missing, s)
			continue
		}
		totalPositive += o.PositiveCount
		totalCount += o.TotalCount
	}

	if len(rec.Missing) > 0 {
		if exists {
			if _, err := tx.DeleteMarketObservation(ctx, date); err != nil {
				return rec, a.e.storageErr("withdraw market observation", err)
			}
			rec.Withdrawn = true
			a.e.log.Info().
				Str("date", models.DateKey(date)).
				Int("missing_sectors", len(rec.Missing)).
				Msg("market observation withdrawn, sectors missing")
		}
		return rec, nil
	}

	m := &models.MarketObservation{
		Date:          date,
		TotalPositive: totalPositive,
		SectorCount:   len(a.e.sectors),
		State:         models.MarketStateComputed,
	}
	switch a.e.policy {
	case TotalStockManual:
		switch {
		case exists && existing.TotalStock != nil && *existing.TotalStock >= totalPositive:
			a.applyTotalStock(m, *existing.TotalStock)
		case exists && existing.TotalStock != nil:
			// supplied total no longer covers the positives; wait for a new one
			a.e.log.Warn().
				Str("date", models.DateKey(date)).
				Int("total_stock", *existing.TotalStock).
				Int("total_positive", totalPositive).
				Msg("supplied total stock below total positive, reverting to computed")
			m.Label = Label(m.PositiveChangePercentage)
		default:
			m.Label = Label(m.PositiveChangePercentage)
		}
	default:
		a.applyTotalStock(m, totalCount)
	}

	if exists && existing.SameFigures(m) {
		rec.Market = existing
		return rec, nil
	}

	now := a.e.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	if exists {
		m.CreatedAt = existing.CreatedAt
	}
	if err := tx.PutMarketObservation(ctx, m); err != nil {
		return rec, a.e.storageErr("put market observation", err)
	}
	rec.Market = m
	rec.Changed = true
	return rec, nil
}

func (a *Aggregator) applyTotalStock(m *models.MarketObservation, totalStock int) {
	ts := totalStock
	m.TotalStock = &ts
	m.PositiveChangePercentage = Percentage(m.TotalPositive, ts)
	m.Label = Label(m.PositiveChangePercentage)
	m.State = models.MarketStateFinalized
}
