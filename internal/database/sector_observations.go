package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

const sectorObservationColumns = `
	sector, date, positive_count, negative_count, unchanged_count, total_count,
	positive_percentage, label, created_at, updated_at`

// PutSectorObservation upserts a sector observation by (sector, date)
func (db *DB) PutSectorObservation(ctx context.Context, o *models.SectorObservation) error {
	query := `
		INSERT INTO sector_observations (` + sectorObservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sector, date) DO UPDATE SET
			positive_count = EXCLUDED.positive_count,
			negative_count = EXCLUDED.negative_count,
			unchanged_count = EXCLUDED.unchanged_count,
			total_count = EXCLUDED.total_count,
			positive_percentage = EXCLUDED.positive_percentage,
			label = EXCLUDED.label,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`
	err := db.q.QueryRowContext(ctx, query,
		string(o.Sector), o.Date, o.PositiveCount, o.NegativeCount, o.UnchangedCount, o.TotalCount,
		o.PositivePercentage, string(o.Label), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to put sector observation: %w", err)
	}
	return nil
}

// GetSectorObservation retrieves the observation for a sector on a date
func (db *DB) GetSectorObservation(ctx context.Context, sector models.Sector, date time.Time) (*models.SectorObservation, bool, error) {
	query := `
		SELECT ` + sectorObservationColumns + `
		FROM sector_observations
		WHERE sector = $1 AND date = $2
	`
	o, err := scanSectorObservation(db.q.QueryRowContext(ctx, query, string(sector), date))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get sector observation: %w", err)
	}
	return o, true, nil
}

// DeleteSectorObservation removes the observation for a sector on a date
func (db *DB) DeleteSectorObservation(ctx context.Context, sector models.Sector, date time.Time) (bool, error) {
	query := `DELETE FROM sector_observations WHERE sector = $1 AND date = $2`
	result, err := db.q.ExecContext(ctx, query, string(sector), date)
	if err != nil {
		return false, fmt.Errorf("failed to delete sector observation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListSectorObservations retrieves all observations for a sector, ordered by date descending
func (db *DB) ListSectorObservations(ctx context.Context, sector models.Sector) ([]*models.SectorObservation, error) {
	query := `
		SELECT ` + sectorObservationColumns + `
		FROM sector_observations
		WHERE sector = $1
		ORDER BY date DESC
	`
	return scanSectorObservations(db.q.QueryContext(ctx, query, string(sector)))
}

// ListObservationsOnDate retrieves every sector's observation for a date
func (db *DB) ListObservationsOnDate(ctx context.Context, date time.Time) ([]*models.SectorObservation, error) {
	query := `
		SELECT ` + sectorObservationColumns + `
		FROM sector_observations
		WHERE date = $1
		ORDER BY sector ASC
	`
	return scanSectorObservations(db.q.QueryContext(ctx, query, date))
}

// ListObservationDates returns the distinct dates with any sector observation
func (db *DB) ListObservationDates(ctx context.Context) ([]time.Time, error) {
	query := `SELECT DISTINCT date FROM sector_observations ORDER BY date ASC`
	return scanDates(db.q.QueryContext(ctx, query))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSectorObservation(row rowScanner) (*models.SectorObservation, error) {
	var (
		o      models.SectorObservation
		sector string
		label  string
	)
	err := row.Scan(
		&sector, &o.Date, &o.PositiveCount, &o.NegativeCount, &o.UnchangedCount, &o.TotalCount,
		&o.PositivePercentage, &label, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Sector = models.Sector(sector)
	o.Label = models.Label(label)
	o.Date = models.NormalizeDate(o.Date)
	return &o, nil
}

func scanSectorObservations(rows *sql.Rows, err error) ([]*models.SectorObservation, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query sector observations: %w", err)
	}
	defer rows.Close()

	var out []*models.SectorObservation
	for rows.Next() {
		o, err := scanSectorObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sector observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sector observations: %w", err)
	}
	return out, nil
}

func scanDates(rows *sql.Rows, err error) ([]time.Time, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, models.NormalizeDate(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dates: %w", err)
	}
	return dates, nil
}
