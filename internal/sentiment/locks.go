package sentiment

import (
	"sync"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// dateLocks serializes work per trading date. Different dates proceed in
// parallel; entries are dropped once no goroutine holds or waits on them.
type dateLocks struct {
	mu    sync.Mutex
	locks map[string]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

func newDateLocks() *dateLocks {
	return &dateLocks{locks: make(map[string]*dateLock)}
}

func (d *dateLocks) lock(date time.Time) (unlock func()) {
	key := models.DateKey(date)

	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &dateLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}
