package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

const marketObservationColumns = `
	date, total_positive, total_stock, positive_change_percentage, label, state,
	sector_count, created_at, updated_at`

// PutMarketObservation upserts the market aggregate for a date
func (db *DB) PutMarketObservation(ctx context.Context, m *models.MarketObservation) error {
	query := `
		INSERT INTO market_observations (` + marketObservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (date) DO UPDATE SET
			total_positive = EXCLUDED.total_positive,
			total_stock = EXCLUDED.total_stock,
			positive_change_percentage = EXCLUDED.positive_change_percentage,
			label = EXCLUDED.label,
			state = EXCLUDED.state,
			sector_count = EXCLUDED.sector_count,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`
	err := db.q.QueryRowContext(ctx, query,
		m.Date, m.TotalPositive, m.TotalStock, m.PositiveChangePercentage, string(m.Label), string(m.State),
		m.SectorCount, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to put market observation: %w", err)
	}
	return nil
}

// GetMarketObservation retrieves the market aggregate for a date
func (db *DB) GetMarketObservation(ctx context.Context, date time.Time) (*models.MarketObservation, bool, error) {
	query := `
		SELECT ` + marketObservationColumns + `
		FROM market_observations
		WHERE date = $1
	`
	m, err := scanMarketObservation(db.q.QueryRowContext(ctx, query, date))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get market observation: %w", err)
	}
	return m, true, nil
}

// DeleteMarketObservation removes the market aggregate for a date
func (db *DB) DeleteMarketObservation(ctx context.Context, date time.Time) (bool, error) {
	query := `DELETE FROM market_observations WHERE date = $1`
	result, err := db.q.ExecContext(ctx, query, date)
	if err != nil {
		return false, fmt.Errorf("failed to delete market observation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListMarketObservations retrieves all market aggregates, ordered by date descending
func (db *DB) ListMarketObservations(ctx context.Context) ([]*models.MarketObservation, error) {
	query := `
		SELECT ` + marketObservationColumns + `
		FROM market_observations
		ORDER BY date DESC
	`
	rows, err := db.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query market observations: %w", err)
	}
	defer rows.Close()

	var out []*models.MarketObservation
	for rows.Next() {
		m, err := scanMarketObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market observation: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate market observations: %w", err)
	}
	return out, nil
}

// ListMarketDates returns the dates that have a market aggregate
func (db *DB) ListMarketDates(ctx context.Context) ([]time.Time, error) {
	query := `SELECT date FROM market_observations ORDER BY date ASC`
	return scanDates(db.q.QueryContext(ctx, query))
}

func scanMarketObservation(row rowScanner) (*models.MarketObservation, error) {
	var (
		m          models.MarketObservation
		totalStock sql.NullInt64
		label      string
		state      string
	)
	err := row.Scan(
		&m.Date, &m.TotalPositive, &totalStock, &m.PositiveChangePercentage, &label, &state,
		&m.SectorCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if totalStock.Valid {
		ts := int(totalStock.Int64)
		m.TotalStock = &ts
	}
	m.Label = models.Label(label)
	m.State = models.MarketState(state)
	m.Date = models.NormalizeDate(m.Date)
	return &m, nil
}
