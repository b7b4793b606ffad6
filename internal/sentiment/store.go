package sentiment

import (
	"context"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// Store abstracts persistence of sector and market observations.
// The in-memory implementation backs tests and single-process use; the
// Postgres implementation lives in the database package.
//
// Get methods report absence through the bool result rather than an error.
// Dates passed in are already normalized to UTC midnight.
type Store interface {
	GetSectorObservation(ctx context.Context, sector models.Sector, date time.Time) (*models.SectorObservation, bool, error)
	PutSectorObservation(ctx context.Context, o *models.SectorObservation) error
	DeleteSectorObservation(ctx context.Context, sector models.Sector, date time.Time) (bool, error)
	ListSectorObservations(ctx context.Context, sector models.Sector) ([]*models.SectorObservation, error)
	ListObservationsOnDate(ctx context.Context, date time.Time) ([]*models.SectorObservation, error)
	ListObservationDates(ctx context.Context) ([]time.Time, error)

	GetMarketObservation(ctx context.Context, date time.Time) (*models.MarketObservation, bool, error)
	PutMarketObservation(ctx context.Context, m *models.MarketObservation) error
	DeleteMarketObservation(ctx context.Context, date time.Time) (bool, error)
	ListMarketObservations(ctx context.Context) ([]*models.MarketObservation, error)
	ListMarketDates(ctx context.Context) ([]time.Time, error)

	// WithinDate runs fn atomically with respect to every other WithinDate
	// call for the same date. If fn returns an error nothing it wrote is kept.
	WithinDate(ctx context.Context, date time.Time, fn func(tx Store) error) error
}
