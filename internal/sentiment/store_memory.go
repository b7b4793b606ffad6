package sentiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

type sectorKey struct {
	Sector models.Sector
	Date   string
}

// InMemoryStore keeps observations in process memory. It is safe for
// concurrent use; WithinDate holds a per-date lock and rolls back the writes
// of a failed callback.
type InMemoryStore struct {
	mu      sync.RWMutex
	sectors map[sectorKey]models.SectorObservation
	market  map[string]models.MarketObservation
	dates   *dateLocks
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sectors: make(map[sectorKey]models.SectorObservation),
		market:  make(map[string]models.MarketObservation),
		dates:   newDateLocks(),
	}
}

func (s *InMemoryStore) GetSectorObservation(_ context.Context, sector models.Sector, date time.Time) (*models.SectorObservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.sectors[sectorKey{Sector: sector, Date: models.DateKey(date)}]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

func (s *InMemoryStore) PutSectorObservation(_ context.Context, o *models.SectorObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sectorKey{Sector: o.Sector, Date: models.DateKey(o.Date)}
	if prev, ok := s.sectors[key]; ok {
		o.CreatedAt = prev.CreatedAt
	}
	s.sectors[key] = *o
	return nil
}

func (s *InMemoryStore) DeleteSectorObservation(_ context.Context, sector models.Sector, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sectorKey{Sector: sector, Date: models.DateKey(date)}
	if _, ok := s.sectors[key]; !ok {
		return false, nil
	}
	delete(s.sectors, key)
	return true, nil
}

func (s *InMemoryStore) ListSectorObservations(_ context.Context, sector models.Sector) ([]*models.SectorObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SectorObservation
	for key, o := range s.sectors {
		if key.Sector == sector {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *InMemoryStore) ListObservationsOnDate(_ context.Context, date time.Time) ([]*models.SectorObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := models.DateKey(date)
	var out []*models.SectorObservation
	for key, o := range s.sectors {
		if key.Date == day {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out, nil
}

func (s *InMemoryStore) ListObservationDates(_ context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]time.Time)
	for _, o := range s.sectors {
		seen[models.DateKey(o.Date)] = o.Date
	}
	return sortedDates(seen), nil
}

func (s *InMemoryStore) GetMarketObservation(_ context.Context, date time.Time) (*models.MarketObservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.market[models.DateKey(date)]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *InMemoryStore) PutMarketObservation(_ context.Context, m *models.MarketObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DateKey(m.Date)
	if prev, ok := s.market[key]; ok {
		m.CreatedAt = prev.CreatedAt
	}
	s.market[key] = *m
	return nil
}

func (s *InMemoryStore) DeleteMarketObservation(_ context.Context, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DateKey(date)
	if _, ok := s.market[key]; !ok {
		return false, nil
	}
	delete(s.market, key)
	return true, nil
}

func (s *InMemoryStore) ListMarketObservations(_ context.Context) ([]*models.MarketObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MarketObservation, 0, len(s.market))
	for _, m := range s.market {
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *InMemoryStore) ListMarketDates(_ context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]time.Time, len(s.market))
	for key, m := range s.market {
		seen[key] = m.Date
	}
	return sortedDates(seen), nil
}

func (s *InMemoryStore) WithinDate(ctx context.Context, date time.Time, fn func(tx Store) error) error {
	unlock := s.dates.lock(date)
	defer unlock()

	tx := &memoryTx{InMemoryStore: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx records an undo entry for every write so a failed callback leaves
// the store as it found it.
type memoryTx struct {
	*InMemoryStore
	undo []func()
}

func (tx *memoryTx) PutSectorObservation(ctx context.Context, o *models.SectorObservation) error {
	tx.rememberSector(sectorKey{Sector: o.Sector, Date: models.DateKey(o.Date)})
	return tx.InMemoryStore.PutSectorObservation(ctx, o)
}

func (tx *memoryTx) DeleteSectorObservation(ctx context.Context, sector models.Sector, date time.Time) (bool, error) {
	tx.rememberSector(sectorKey{Sector: sector, Date: models.DateKey(date)})
	return tx.InMemoryStore.DeleteSectorObservation(ctx, sector, date)
}

func (tx *memoryTx) PutMarketObservation(ctx context.Context, m *models.MarketObservation) error {
	tx.rememberMarket(models.DateKey(m.Date))
	return tx.InMemoryStore.PutMarketObservation(ctx, m)
}

func (tx *memoryTx) DeleteMarketObservation(ctx context.Context, date time.Time) (bool, error) {
	tx.rememberMarket(models.DateKey(date))
	return tx.InMemoryStore.DeleteMarketObservation(ctx, date)
}

// WithinDate on an open transaction joins it.
func (tx *memoryTx) WithinDate(_ context.Context, _ time.Time, fn func(tx Store) error) error {
	return fn(tx)
}

func (tx *memoryTx) rememberSector(key sectorKey) {
	s := tx.InMemoryStore
	s.mu.RLock()
	prev, existed := s.sectors[key]
	s.mu.RUnlock()

	tx.undo = append(tx.undo, func() {
		if existed {
			s.sectors[key] = prev
		} else {
			delete(s.sectors, key)
		}
	})
}

func (tx *memoryTx) rememberMarket(key string) {
	s := tx.InMemoryStore
	s.mu.RLock()
	prev, existed := s.market[key]
	s.mu.RUnlock()

	tx.undo = append(tx.undo, func() {
		if existed {
			s.market[key] = prev
		} else {
			delete(s.market, key)
		}
	})
}

func (tx *memoryTx) rollback() {
	s := tx.InMemoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func sortedDates(seen map[string]time.Time) []time.Time {
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
