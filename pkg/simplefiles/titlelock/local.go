// Package titlelock provides per-title mutual exclusion for writers.
//
// Local serializes goroutines of one process. Redis serializes writers across
// processes sharing a Redis instance.
package titlelock

import (
	"context"
	"sync"
)

// Local is an in-process lock keyed by title. Each title behaves like its
// own mutex; unrelated titles never block each other.
type Local struct {
	mu sync.Mutex
	// a held title maps to a channel that is closed on unlock
	held map[string]chan struct{}
}

// NewLocal creates an in-process title lock
func NewLocal() *Local {
	return &Local{
		held: make(map[string]chan struct{}),
	}
}

// Lock blocks until title is free or ctx is done
func (l *Local) Lock(ctx context.Context, title string) (func(), error) {
	for {
		unlock, wait := l.tryLock(title)
		if unlock != nil {
			return unlock, nil
		}

		select {
		case <-wait:
			// released; someone else may win the retry
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryLock acquires title without waiting. ok is false when it is held.
func (l *Local) TryLock(title string) (unlock func(), ok bool) {
	unlock, _ = l.tryLock(title)
	return unlock, unlock != nil
}

func (l *Local) tryLock(title string) (func(), chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait, held := l.held[title]; held {
		return nil, wait
	}

	released := make(chan struct{})
	l.held[title] = released

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, title)
			l.mu.Unlock()
			close(released)
		})
	}, nil
}
