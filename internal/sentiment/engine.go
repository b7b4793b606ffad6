package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// TotalStockPolicy decides where the market total stock count comes from
type TotalStockPolicy string

const (
	// TotalStockSummed derives the market total from the sector totals.
	TotalStockSummed TotalStockPolicy = "summed"
	// TotalStockManual leaves the market total to an operator; aggregates
	// stay computed until it is supplied.
	TotalStockManual TotalStockPolicy = "manual"
)

// ParseTotalStockPolicy validates a policy name
func ParseTotalStockPolicy(raw string) (TotalStockPolicy, error) {
	switch p := TotalStockPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case TotalStockSummed, TotalStockManual:
		return p, nil
	case "":
		return TotalStockSummed, nil
	default:
		return "", fmt.Errorf("unknown total stock policy: %q", raw)
	}
}

// Publisher receives change events after a write has committed. Publish
// failures are logged and never undo the write.
type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// Option configures an Engine
type Option func(*Engine)

// WithSectors replaces the sector set the completeness gate checks against.
// Repeated sectors are kept once, in first-seen order.
func WithSectors(sectors []models.Sector) Option {
	return func(e *Engine) {
		e.sectors = e.sectors[:0:0]
		for _, s := range sectors {
			if !models.ContainsSector(e.sectors, s) {
				e.sectors = append(e.sectors, s)
			}
		}
	}
}

// WithTotalStockPolicy selects how the market total stock is determined
func WithTotalStockPolicy(p TotalStockPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithPublishers registers change event publishers
func WithPublishers(p ...Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p...) }
}

// WithTransientCheck sets how raw store errors are classified for retry
func WithTransientCheck(check TransientCheck) Option {
	return func(e *Engine) { e.transient = check }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine wires the sector ledger and the market aggregator to one store.
// Every write and the recompute it triggers run under a single per-date
// lock, so an aggregate is always computed from a consistent snapshot.
type Engine struct {
	store      Store
	sectors    []models.Sector
	policy     TotalStockPolicy
	log        zerolog.Logger
	publishers []Publisher
	transient  TransientCheck
	now        func() time.Time
	locks      *dateLocks

	Ledger     *Ledger
	Aggregator *Aggregator
}

// New creates an Engine over store. By default it uses the twelve NEPSE
// sectors and the summed total stock policy.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		sectors:   append([]models.Sector(nil), models.AllSectors...),
		policy:    TotalStockSummed,
		log:       zerolog.Nop(),
		transient: defaultTransientCheck,
		now:       time.Now,
		locks:     newDateLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Ledger = &Ledger{e: e}
	e.Aggregator = &Aggregator{e: e}
	return e
}

// Sectors returns the sector set in display order
func (e *Engine) Sectors() []models.Sector {
	return append([]models.Sector(nil), e.sectors...)
}

// Policy returns the configured total stock policy
func (e *Engine) Policy() TotalStockPolicy {
	return e.policy
}

// ParseSector resolves a sector name against the engine's sector set
func (e *Engine) ParseSector(raw string) (models.Sector, error) {
	s, err := models.ParseSector(raw, e.sectors)
	if err != nil {
		return "", invalid("sector", "%v", err)
	}
	return s, nil
}

// withinDate runs fn under the in-process date lock and the store's own
// per-date transaction.
func (e *Engine) withinDate(ctx context.Context, date time.Time, fn func(tx Store) error) error {
	unlock := e.locks.lock(date)
	defer unlock()
	return e.store.WithinDate(ctx, date, fn)
}

func (e *Engine) publish(ctx context.Context, events ...models.ChangeEvent) {
	for _, event := range events {
		for _, p := range e.publishers {
			if err := p.Publish(ctx, event); err != nil {
				e.log.Warn().Err(err).
					Str("event_type", event.EventType).
					Str("date", models.DateKey(event.Date)).
					Msg("failed to publish change event")
			}
		}
	}
}

func validateDate(date time.Time) (time.Time, error) {
	if date.IsZero() {
		return time.Time{}, invalid("date", "is required")
	}
	return models.NormalizeDate(date), nil
}
