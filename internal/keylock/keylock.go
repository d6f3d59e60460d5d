// Package keylock provides mutual exclusion keyed by string, for work that
// must not overlap for the same message, mailbox or recipient.
package keylock

import (
	"context"
	"sync"
)

// Locker hands out one lock per key. Keys with no holder or waiter are
// forgotten. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New returns an empty Locker.
func New() *Locker { return &Locker{} }

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

// TryLock takes key only if it is free.
func (l *Locker) TryLock(key string) (func(), bool) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), true
	default:
		l.drop(key, s)
		return nil, false
	}
}

// Held reports the number of keys currently held or awaited.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*slot)
	}
	s, ok := l.locks[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.locks[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Locker) releaser(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}
}
