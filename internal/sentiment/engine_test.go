package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

const (
	sectorA models.Sector = "A"
	sectorB models.Sector = "B"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// failingStore fails market writes on demand
type failingStore struct {
	*InMemoryStore
	failMarketPut bool
	err           error
}

func (s *failingStore) WithinDate(ctx context.Context, date time.Time, fn func(tx Store) error) error {
	return s.InMemoryStore.WithinDate(ctx, date, func(tx Store) error {
		return fn(&failingTx{Store: tx, parent: s})
	})
}

type failingTx struct {
	Store
	parent *failingStore
}

func (tx *failingTx) PutMarketObservation(ctx context.Context, m *models.MarketObservation) error {
	if tx.parent.failMarketPut {
		return tx.parent.err
	}
	return tx.Store.PutMarketObservation(ctx, m)
}

func newTestEngine(t *testing.T, store Store, opts ...Option) (*Engine, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	clock := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	base := []Option{
		WithSectors([]models.Sector{sectorA, sectorB}),
		WithPublishers(pub),
		WithClock(func() time.Time { return clock }),
	}
	return New(store, append(base, opts...)...), pub
}

func input(sector models.Sector, date time.Time, positive, total int) models.SectorInput {
	return models.SectorInput{Sector: sector, Date: date, PositiveCount: positive, TotalCount: total}
}

func TestEngineScenario(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	engine, pub := newTestEngine(t, store)

	t.Run("first sector leaves market absent", func(t *testing.T) {
		obs, rec, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)
		assert.Equal(t, models.LabelMid, obs.Label)
		assert.True(t, decimal.NewFromInt(50).Equal(obs.PositivePercentage.Decimal))

		assert.Nil(t, rec.Market)
		assert.Equal(t, []models.Sector{sectorB}, rec.Missing)
		require.NotNil(t, rec.Warning())
		assert.Contains(t, rec.Warning().Error(), "B")

		rec, err = engine.Aggregator.Recompute(ctx, day)
		require.NoError(t, err)
		assert.Nil(t, rec.Market)
	})

	t.Run("last sector produces the aggregate", func(t *testing.T) {
		_, rec, err := engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
		require.NoError(t, err)
		require.NotNil(t, rec.Market)
		assert.Nil(t, rec.Warning())

		m := rec.Market
		assert.Equal(t, 15, m.TotalPositive)
		require.NotNil(t, m.TotalStock)
		assert.Equal(t, 30, *m.TotalStock)
		assert.True(t, decimal.NewFromInt(50).Equal(m.PositiveChangePercentage.Decimal))
		assert.Equal(t, models.LabelMid, m.Label)
		assert.Equal(t, models.MarketStateFinalized, m.State)

		stored, ok, err := engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, stored.SameFigures(m))
	})

	t.Run("deleting a sector withdraws the aggregate", func(t *testing.T) {
		removed, rec, err := engine.Ledger.Delete(ctx, sectorA, day)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.True(t, rec.Withdrawn)
		assert.Nil(t, rec.Market)

		rec, err = engine.Aggregator.Recompute(ctx, day)
		require.NoError(t, err)
		assert.Nil(t, rec.Market)
		assert.False(t, rec.Withdrawn)

		_, ok, err := engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("events follow the writes", func(t *testing.T) {
		assert.Equal(t, []string{
			models.EventSectorUpserted,
			models.EventSectorUpserted,
			models.EventMarketFinalized,
			models.EventSectorDeleted,
			models.EventMarketWithdrawn,
		}, pub.types())
	})
}

func TestLedgerUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("same key twice keeps one row", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)
		_, _, err = engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)

		rows, err := engine.Ledger.ListBySector(ctx, sectorA)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("replaces existing observation", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)
		_, _, err = engine.Ledger.Upsert(ctx, input(sectorA, day, 14, 20))
		require.NoError(t, err)

		obs, ok, err := engine.Ledger.GetOnDate(ctx, sectorA, day)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 14, obs.PositiveCount)
		assert.Equal(t, models.LabelStrong, obs.Label)
	})

	t.Run("normalizes the date", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		withTime := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
		obs, _, err := engine.Ledger.Upsert(ctx, input(sectorA, withTime, 1, 2))
		require.NoError(t, err)
		assert.Equal(t, day, obs.Date)

		_, ok, err := engine.Ledger.GetOnDate(ctx, sectorA, day)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("derives total from counts when omitted", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		obs, _, err := engine.Ledger.Upsert(ctx, models.SectorInput{
			Sector: sectorA, Date: day, PositiveCount: 3, NegativeCount: 5, UnchangedCount: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 10, obs.TotalCount)
		assert.Equal(t, models.LabelWeak, obs.Label)
	})

	t.Run("validation failures", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		cases := map[string]models.SectorInput{
			"zero total":         input(sectorA, day, 0, 0),
			"unknown sector":     input("Z", day, 1, 2),
			"missing date":       input(sectorA, time.Time{}, 1, 2),
			"negative count":     {Sector: sectorA, Date: day, PositiveCount: 1, NegativeCount: -1, TotalCount: 2},
			"total below counts": {Sector: sectorA, Date: day, PositiveCount: 5, NegativeCount: 5, TotalCount: 8},
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				_, _, err := engine.Ledger.Upsert(ctx, in)
				require.Error(t, err)
				assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			})
		}

		rows, err := engine.Ledger.ListBySector(ctx, sectorA)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestLedgerDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("miss reports false without side effects", func(t *testing.T) {
		engine, pub := newTestEngine(t, NewInMemoryStore())

		removed, rec, err := engine.Ledger.Delete(ctx, sectorA, day)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.False(t, rec.Withdrawn)
		assert.Empty(t, pub.types())
	})

	t.Run("unknown sector is a validation error", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())

		_, _, err := engine.Ledger.Delete(ctx, "Z", day)
		assert.True(t, IsValidation(err))
	})
}

func TestLedgerListBySector(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, NewInMemoryStore())

	for i := 0; i < 5; i++ {
		_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day.AddDate(0, 0, i), i, 10))
		require.NoError(t, err)
	}

	rows, err := engine.Ledger.ListBySector(ctx, sectorA)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, day.AddDate(0, 0, 4), rows[0].Date)
	assert.Equal(t, day, rows[4].Date)
}

func TestLedgerSnapshot(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, NewInMemoryStore())

	_, _, err := engine.Ledger.Upsert(ctx, input(sectorB, day, 2, 4))
	require.NoError(t, err)

	snap, err := engine.Ledger.Snapshot(ctx, day)
	require.NoError(t, err)
	require.Len(t, snap.Observations, 1)
	assert.Equal(t, sectorB, snap.Observations[0].Sector)
	assert.Equal(t, []models.Sector{sectorA}, snap.Missing)
	require.Len(t, snap.ListedValues, 1)
	assert.False(t, snap.ListedValues[0].Value.Valid, "sector outside the catalogue has no listed count")
}

func TestSnapshotListedValues(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, NewInMemoryStore(),
		WithSectors([]models.Sector{models.SectorHydropower, models.SectorFinance}))

	_, _, err := engine.Ledger.Upsert(ctx, input(models.SectorHydropower, day, 13, 40))
	require.NoError(t, err)
	_, _, err = engine.Ledger.Upsert(ctx, input(models.SectorFinance, day, 3, 15))
	require.NoError(t, err)

	snap, err := engine.Ledger.Snapshot(ctx, day)
	require.NoError(t, err)
	require.Len(t, snap.ListedValues, 2)

	hydro := snap.ListedValues[0]
	assert.Equal(t, models.SectorHydropower, hydro.Sector)
	assert.Equal(t, 91, hydro.ListedCompanies)
	assert.True(t, decimal.RequireFromString("14.2857").Equal(hydro.Value.Decimal), "got %s", hydro.Value.Decimal)

	finance := snap.ListedValues[1]
	assert.Equal(t, 15, finance.ListedCompanies)
	assert.True(t, decimal.NewFromInt(20).Equal(finance.Value.Decimal))
}

func TestAggregatorRecompute(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent without intervening writes", func(t *testing.T) {
		engine, pub := newTestEngine(t, NewInMemoryStore())
		_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)
		_, _, err = engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
		require.NoError(t, err)
		published := len(pub.types())

		first, err := engine.Aggregator.Recompute(ctx, day)
		require.NoError(t, err)
		second, err := engine.Aggregator.Recompute(ctx, day)
		require.NoError(t, err)

		assert.Equal(t, first.Market, second.Market)
		assert.False(t, first.Changed)
		assert.False(t, second.Changed)
		assert.Len(t, pub.types(), published)
	})

	t.Run("total positive is the sum across sectors", func(t *testing.T) {
		sectors := []models.Sector{"s1", "s2", "s3", "s4"}
		engine, _ := newTestEngine(t, NewInMemoryStore(), WithSectors(sectors))

		want := 0
		for i, s := range sectors {
			_, rec, err := engine.Ledger.Upsert(ctx, input(s, day, i+1, 10))
			require.NoError(t, err)
			want += i + 1
			if i < len(sectors)-1 {
				assert.Nil(t, rec.Market, "aggregate must wait for every sector")
				assert.Len(t, rec.Missing, len(sectors)-i-1)
			} else {
				require.NotNil(t, rec.Market)
				assert.Equal(t, want, rec.Market.TotalPositive)
				assert.Equal(t, 40, *rec.Market.TotalStock)
				assert.Equal(t, len(sectors), rec.Market.SectorCount)
			}
		}
	})

	t.Run("rejects a zero date", func(t *testing.T) {
		engine, _ := newTestEngine(t, NewInMemoryStore())
		_, err := engine.Aggregator.Recompute(ctx, time.Time{})
		assert.True(t, IsValidation(err))
	})

	t.Run("withdraws stale aggregate left by an earlier process", func(t *testing.T) {
		store := NewInMemoryStore()
		engine, _ := newTestEngine(t, store)
		ts := 30
		require.NoError(t, store.PutMarketObservation(ctx, &models.MarketObservation{
			Date: day, TotalPositive: 15, TotalStock: &ts, State: models.MarketStateFinalized,
		}))

		rec, err := engine.Aggregator.Recompute(ctx, day)
		require.NoError(t, err)
		assert.True(t, rec.Withdrawn)
		assert.Len(t, rec.Missing, 2)
	})
}

func TestRepeatedSectorsCountOnce(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, NewInMemoryStore(),
		WithSectors([]models.Sector{sectorA, sectorA, sectorB}))

	assert.Equal(t, []models.Sector{sectorA, sectorB}, engine.Sectors())

	_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
	require.NoError(t, err)
	_, rec, err := engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
	require.NoError(t, err)
	require.NotNil(t, rec.Market)
	assert.Equal(t, 15, rec.Market.TotalPositive)
	assert.Equal(t, 30, *rec.Market.TotalStock)
	assert.Equal(t, 2, rec.Market.SectorCount)
}

func TestAggregatorRecomputeAll(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	engine, _ := newTestEngine(t, store)

	day2 := day.AddDate(0, 0, 1)
	for _, in := range []models.SectorInput{
		input(sectorA, day, 10, 20),
		input(sectorB, day, 5, 10),
		input(sectorA, day2, 1, 2),
	} {
		_, _, err := engine.Ledger.Upsert(ctx, in)
		require.NoError(t, err)
	}

	// an orphaned aggregate with no sector rows at all
	day3 := day.AddDate(0, 0, 2)
	require.NoError(t, store.PutMarketObservation(ctx, &models.MarketObservation{Date: day3, TotalPositive: 1}))

	touched, err := engine.Aggregator.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, touched)

	markets, err := engine.Aggregator.ListMarket(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, day, markets[0].Date)
}

func TestAggregatorManualTotalStock(t *testing.T) {
	ctx := context.Background()
	engine, pub := newTestEngine(t, NewInMemoryStore(), WithTotalStockPolicy(TotalStockManual))

	t.Run("supplying before completeness returns the warning", func(t *testing.T) {
		_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
		require.NoError(t, err)

		_, err = engine.Aggregator.SupplyTotalStock(ctx, day, 100)
		var warn *IncompleteDataWarning
		require.ErrorAs(t, err, &warn)
		assert.Equal(t, []models.Sector{sectorB}, warn.Missing)
	})

	t.Run("complete date is computed without total stock", func(t *testing.T) {
		_, rec, err := engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
		require.NoError(t, err)
		require.NotNil(t, rec.Market)
		assert.Equal(t, models.MarketStateComputed, rec.Market.State)
		assert.Nil(t, rec.Market.TotalStock)
		assert.False(t, rec.Market.PositiveChangePercentage.Valid)
		assert.Equal(t, models.LabelUnknown, rec.Market.Label)
	})

	t.Run("total stock below total positive is rejected", func(t *testing.T) {
		_, err := engine.Aggregator.SupplyTotalStock(ctx, day, 10)
		assert.True(t, IsValidation(err))
	})

	t.Run("supplying total stock finalizes", func(t *testing.T) {
		m, err := engine.Aggregator.SupplyTotalStock(ctx, day, 25)
		require.NoError(t, err)
		assert.Equal(t, models.MarketStateFinalized, m.State)
		assert.Equal(t, 25, *m.TotalStock)
		assert.True(t, decimal.NewFromInt(60).Equal(m.PositiveChangePercentage.Decimal))
		assert.Equal(t, models.LabelStrong, m.Label)
		assert.Contains(t, pub.types(), models.EventMarketFinalized)
	})

	t.Run("later sector upsert keeps the supplied total", func(t *testing.T) {
		_, rec, err := engine.Ledger.Upsert(ctx, input(sectorB, day, 1, 10))
		require.NoError(t, err)
		require.NotNil(t, rec.Market)
		assert.Equal(t, models.MarketStateFinalized, rec.Market.State)
		assert.Equal(t, 25, *rec.Market.TotalStock)
		assert.Equal(t, 11, rec.Market.TotalPositive)
		assert.Equal(t, models.LabelWeak, rec.Market.Label)
	})

	t.Run("positives above the supplied total revert to computed", func(t *testing.T) {
		_, rec, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 20, 20))
		require.NoError(t, err)
		_, rec, err = engine.Ledger.Upsert(ctx, input(sectorB, day, 10, 10))
		require.NoError(t, err)
		require.NotNil(t, rec.Market)
		assert.Equal(t, models.MarketStateComputed, rec.Market.State)
		assert.Nil(t, rec.Market.TotalStock)
		assert.Equal(t, 30, rec.Market.TotalPositive)
		assert.Equal(t, models.LabelUnknown, rec.Market.Label)

		m, err := engine.Aggregator.SupplyTotalStock(ctx, day, 55)
		require.NoError(t, err)
		assert.Equal(t, models.MarketStateFinalized, m.State)
		assert.Equal(t, models.LabelMid, m.Label)
	})

	t.Run("breaking completeness withdraws a finalized aggregate", func(t *testing.T) {
		_, rec, err := engine.Ledger.Delete(ctx, sectorB, day)
		require.NoError(t, err)
		assert.True(t, rec.Withdrawn)

		_, ok, err := engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("summed policy refuses manual totals", func(t *testing.T) {
		summed, _ := newTestEngine(t, NewInMemoryStore())
		_, err := summed.Aggregator.SupplyTotalStock(ctx, day, 25)
		assert.True(t, IsValidation(err))
	})
}

func TestAggregatorDeleteMarket(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, NewInMemoryStore())

	_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
	require.NoError(t, err)
	_, _, err = engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
	require.NoError(t, err)

	removed, err := engine.Aggregator.DeleteMarket(ctx, day)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = engine.Aggregator.DeleteMarket(ctx, day)
	require.NoError(t, err)
	assert.False(t, removed)

	rec, err := engine.Aggregator.Recompute(ctx, day)
	require.NoError(t, err)
	assert.NotNil(t, rec.Market)
	assert.True(t, rec.Changed)
}

func TestStorageFailureLeavesPriorState(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{InMemoryStore: NewInMemoryStore(), err: errors.New("connection reset")}
	engine, pub := newTestEngine(t, store, WithTransientCheck(func(err error) bool {
		return err.Error() == "connection reset"
	}))

	_, _, err := engine.Ledger.Upsert(ctx, input(sectorA, day, 10, 20))
	require.NoError(t, err)

	store.failMarketPut = true
	_, _, err = engine.Ledger.Upsert(ctx, input(sectorB, day, 5, 10))
	require.Error(t, err)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Transient)
	assert.True(t, IsTransient(err))

	_, ok, err := engine.Ledger.GetOnDate(ctx, sectorB, day)
	require.NoError(t, err)
	assert.False(t, ok, "sector write must roll back with the failed aggregate")

	_, ok, err = engine.Aggregator.GetMarket(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{models.EventSectorUpserted}, pub.types())
}

func TestConcurrentWritesOnOneDate(t *testing.T) {
	ctx := context.Background()
	sectors := make([]models.Sector, 12)
	for i := range sectors {
		sectors[i] = models.Sector(fmt.Sprintf("sector-%02d", i))
	}
	engine, _ := newTestEngine(t, NewInMemoryStore(), WithSectors(sectors))

	var wg sync.WaitGroup
	for i, s := range sectors {
		wg.Add(1)
		go func(i int, s models.Sector) {
			defer wg.Done()
			_, _, err := engine.Ledger.Upsert(ctx, input(s, day, i, 20))
			assert.NoError(t, err)
		}(i, s)
	}
	wg.Wait()

	m, ok, err := engine.Aggregator.GetMarket(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 66, m.TotalPositive)
	assert.Equal(t, 240, *m.TotalStock)
}
