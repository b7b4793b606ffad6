package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

// advisory lock class for per-date serialization ("NPSE")
const dateLockClass = 0x4E505345

// WithinDate runs fn in a transaction holding a transaction-scoped advisory
// lock for date, so writers for the same date serialize across processes.
// Calling it on a DB already bound to a transaction joins that transaction.
func (db *DB) WithinDate(ctx context.Context, date time.Time, fn func(tx sentiment.Store) error) error {
	if db.tx != nil {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, dateLockClass, dateLockKey(date)); err != nil {
		return fmt.Errorf("failed to lock date %s: %w", date.Format("2006-01-02"), err)
	}

	if err := fn(&DB{conn: db.conn, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dateLockKey is the number of days since the Unix epoch
func dateLockKey(date time.Time) int32 {
	return int32(date.Unix() / 86400)
}
