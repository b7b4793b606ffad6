package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

func TestMarketObservationsRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	jan6 := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)

	t.Run("computed market without total stock", func(t *testing.T) {
		testDB.TruncateAll(t)

		m := &models.MarketObservation{
			Date:          jan5,
			TotalPositive: 120,
			Label:         models.LabelUnknown,
			State:         models.MarketStateComputed,
			SectorCount:   12,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, testDB.PutMarketObservation(ctx, m))

		got, ok, err := testDB.GetMarketObservation(ctx, jan5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, got.TotalStock)
		assert.False(t, got.PositiveChangePercentage.Valid)
		assert.Equal(t, models.MarketStateComputed, got.State)
		assert.Equal(t, 12, got.SectorCount)
	})

	t.Run("finalize replaces the row", func(t *testing.T) {
		testDB.TruncateAll(t)

		m := &models.MarketObservation{
			Date: jan5, TotalPositive: 120, Label: models.LabelUnknown,
			State: models.MarketStateComputed, SectorCount: 12, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, testDB.PutMarketObservation(ctx, m))

		total := 244
		m.TotalStock = &total
		m.PositiveChangePercentage = decimal.NewNullDecimal(decimal.RequireFromString("49.1803"))
		m.Label = models.LabelWeak
		m.State = models.MarketStateFinalized
		m.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, testDB.PutMarketObservation(ctx, m))

		got, ok, err := testDB.GetMarketObservation(ctx, jan5)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, got.TotalStock)
		assert.Equal(t, 244, *got.TotalStock)
		assert.True(t, decimal.RequireFromString("49.1803").Equal(got.PositiveChangePercentage.Decimal))
		assert.Equal(t, models.MarketStateFinalized, got.State)
		assert.True(t, m.SameFigures(got))
	})

	t.Run("list and delete", func(t *testing.T) {
		testDB.TruncateAll(t)

		for _, d := range []time.Time{jan5, jan6} {
			require.NoError(t, testDB.PutMarketObservation(ctx, &models.MarketObservation{
				Date: d, TotalPositive: 1, Label: models.LabelUnknown,
				State: models.MarketStateComputed, CreatedAt: now, UpdatedAt: now,
			}))
		}

		all, err := testDB.ListMarketObservations(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, jan6.Equal(all[0].Date))

		dates, err := testDB.ListMarketDates(ctx)
		require.NoError(t, err)
		require.Len(t, dates, 2)
		assert.True(t, jan5.Equal(dates[0]))

		removed, err := testDB.DeleteMarketObservation(ctx, jan5)
		require.NoError(t, err)
		assert.True(t, removed)

		_, ok, err := testDB.GetMarketObservation(ctx, jan5)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("WithinDate rolls back on error", func(t *testing.T) {
		testDB.TruncateAll(t)

		boom := errors.New("boom")
		err := testDB.WithinDate(ctx, jan5, func(tx sentiment.Store) error {
			require.NoError(t, tx.PutSectorObservation(ctx, sectorObservation(models.SectorHydropower, jan5, 10, 20)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, ok, err := testDB.GetSectorObservation(ctx, models.SectorHydropower, jan5)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
