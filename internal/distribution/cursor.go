package distribution

import (
	"context"
	"sync"
)

// CursorStore holds the per-team "last assigned" pointer for round-robin.
// Next must observe and advance the pointer atomically: it returns the first
// candidate greater than the stored id, wrapping to the first candidate, and
// stores the result. Candidates are sorted ascending and non-empty.
type CursorStore interface {
	Next(ctx context.Context, key string, candidates []string) (string, error)
}

// MemoryCursorStore keeps cursors in process, one lock per key.
type MemoryCursorStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	last  map[string]string
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{
		locks: make(map[string]*sync.Mutex),
		last:  make(map[string]string),
	}
}

func (m *MemoryCursorStore) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *MemoryCursorStore) Next(_ context.Context, key string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	l := m.lockFor(key)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	last, seen := m.last[key]
	m.mu.Unlock()

	picked := candidates[0]
	if seen {
		picked = nextAfter(last, candidates)
	}

	m.mu.Lock()
	m.last[key] = picked
	m.mu.Unlock()
	return picked, nil
}

// Last returns the stored pointer for key.
func (m *MemoryCursorStore) Last(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.last[key]
	return v, ok
}

func nextAfter(last string, candidates []string) string {
	for _, c := range candidates {
		if c > last {
			return c
		}
	}
	return candidates[0]
}
