package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
)

// IDPrefix starts every allocated chunk id
const IDPrefix = "chunk_"

// IDAllocator hands out sequential chunk ids. It is seeded once from the
// collection count and, when given a lock path, holds an exclusive file
// lock so a second writer process cannot allocate overlapping ids.
type IDAllocator struct {
	mu   sync.Mutex
	next int
	lock *flock.Flock
}

// NewIDAllocator takes the writer lock (if lockPath is non-empty) and seeds
// the counter from store.Count.
func NewIDAllocator(ctx context.Context, store Store, lockPath string) (*IDAllocator, error) {
	a := &IDAllocator{}

	if lockPath != "" {
		a.lock = flock.New(lockPath)
		ok, err := a.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire writer lock %s: %w", lockPath, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrWriterLocked, lockPath)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		_ = a.Release()
		return nil, fmt.Errorf("seed id allocator: %w", err)
	}
	a.next = n
	return a, nil
}

// Next returns n fresh ids
func (a *IDAllocator) Next(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, n)
	for i := range ids {
		ids[i] = IDPrefix + strconv.Itoa(a.next)
		a.next++
	}
	return ids
}

// Release drops the writer lock. Safe to call more than once.
func (a *IDAllocator) Release() error {
	if a.lock == nil {
		return nil
	}
	return a.lock.Unlock()
}
