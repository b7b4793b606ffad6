package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

func TestEngineOnPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	sectors := []models.Sector{models.SectorHydropower, models.SectorFinance}
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	t.Run("aggregate follows the ledger", func(t *testing.T) {
		testDB.TruncateAll(t)
		engine := sentiment.New(testDB.DB, sentiment.WithSectors(sectors), sentiment.WithTransientCheck(IsTransient))

		_, rec, err := engine.Ledger.Upsert(ctx, models.SectorInput{
			Sector: models.SectorHydropower, Date: day, PositiveCount: 10, NegativeCount: 10, TotalCount: 20,
		})
		require.NoError(t, err)
		assert.Nil(t, rec.Market)
		assert.Equal(t, []models.Sector{models.SectorFinance}, rec.Missing)

		_, rec, err = engine.Ledger.Upsert(ctx, models.SectorInput{
			Sector: models.SectorFinance, Date: day, PositiveCount: 5, NegativeCount: 5, TotalCount: 10,
		})
		require.NoError(t, err)
		require.NotNil(t, rec.Market)

		m, ok, err := engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 15, m.TotalPositive)
		require.NotNil(t, m.TotalStock)
		assert.Equal(t, 30, *m.TotalStock)
		assert.True(t, decimal.NewFromInt(50).Equal(m.PositiveChangePercentage.Decimal))
		assert.Equal(t, models.MarketStateFinalized, m.State)

		removed, rec, err := engine.Ledger.Delete(ctx, models.SectorHydropower, day)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.True(t, rec.Withdrawn)

		_, ok, err = engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent engines serialize on the advisory lock", func(t *testing.T) {
		testDB.TruncateAll(t)

		// separate engines share no in-process lock, only the database
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				engine := sentiment.New(testDB.DB, sentiment.WithSectors(sectors))
				sector := sectors[i%2]
				_, _, err := engine.Ledger.Upsert(ctx, models.SectorInput{
					Sector: sector, Date: day, PositiveCount: i, TotalCount: 10,
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		engine := sentiment.New(testDB.DB, sentiment.WithSectors(sectors))
		obs, err := engine.Ledger.Snapshot(ctx, day)
		require.NoError(t, err)
		require.Len(t, obs.Observations, 2)

		expected := 0
		for _, o := range obs.Observations {
			expected += o.PositiveCount
		}
		m, ok, err := engine.Aggregator.GetMarket(ctx, day)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, expected, m.TotalPositive)
		assert.Equal(t, 20, *m.TotalStock)
	})
}
