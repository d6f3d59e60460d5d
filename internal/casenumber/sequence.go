package casenumber

import (
	"context"
	"errors"
	"sync"
)

// CounterStore abstracts the case number counter table.
type CounterStore interface {
	// Add advances the counter by offset (>=1) and returns the new value.
	Add(ctx context.Context, offset int64) (int64, error)
}

// Sequence hands out monotonically increasing case numbers.
type Sequence struct {
	store CounterStore
}

// NewSequence wraps a counter store.
func NewSequence(store CounterStore) *Sequence {
	return &Sequence{store: store}
}

// Next returns the next case number.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("case number sequence not configured")
	}
	return s.store.Add(ctx, 1)
}

// MemoryStore keeps the counter in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	counter int64
}

// NewMemoryStore starts counting after start.
func NewMemoryStore(start int64) *MemoryStore {
	return &MemoryStore{counter: start}
}

// Add implements CounterStore.
func (m *MemoryStore) Add(_ context.Context, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("bad offset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter += offset
	return m.counter, nil
}
