package store

import (
	"fmt"
	"sync"

	"github.com/quantfall/binance-data/internal/model"
)

// Locks hands out per-series write locks. A merge persisting a canonical
// dataset and an updater flushing a live tail must hold the series lock
// for the duration of the write. Acquire never blocks: a second acquire
// on a held series fails with ErrLockContention so callers surface the
// conflict instead of queueing behind it.
type Locks struct {
	mu   sync.Mutex
	held map[model.Series]struct{}
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{held: make(map[model.Series]struct{})}
}

// Acquire takes the write lock for a series. The returned release
// function is idempotent. Distinct series acquire independently.
func (l *Locks) Acquire(series model.Series) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[series]; ok {
		return nil, fmt.Errorf("series %s: %w", series, model.ErrLockContention)
	}
	l.held[series] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, series)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether the series lock is currently taken.
func (l *Locks) Held(series model.Series) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[series]
	return ok
}
