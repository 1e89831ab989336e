// Package lock serializes work on a single game.
//
// A Locker hands out one mutual-exclusion slot per game id. Waiters are
// granted the slot in arrival order and may give up through their context.
// The slot is released on every exit path of the unit of work, including
// panics.
//
// Work running under the lock must re-validate anything it decided before
// acquiring it: the state may have changed while it waited. ErrStale is the
// conventional error for "what I expected is no longer true".
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrStale reports that state observed before acquiring the lock no longer
// holds. Callers should retry with a fresh decision.
var ErrStale = errors.New("stale state")

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker maps game ids to exclusive slots. The zero value is not usable; use
// New.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

func (l *Locker) acquireSlot(id string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[id]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *Locker) releaseSlot(id string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

// Do runs fn while holding the slot for id.
func (l *Locker) Do(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, l, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run runs fn while holding the slot for id and returns its result.
func Run[T any](ctx context.Context, l *Locker, id string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	s := l.acquireSlot(id)
	defer l.releaseSlot(id, s)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	defer s.sem.Release(1)

	return fn(ctx)
}

// Held returns the number of ids that currently have a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
