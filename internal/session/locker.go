// Package session serializes commands that target the same browser session.
package session

import (
	"context"
	"sync"
)

// Locker hands out one exclusive slot per session id.
// Commands on different sessions never wait on each other.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]chan struct{})}
}

func (l *Locker) slot(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[id] = s
	}
	return s
}

// Acquire waits for the session's slot.
// The returned context marks the session as held so nested calls made
// with it pass straight through; release must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, id string) (context.Context, func(), error) {
	if Held(ctx, id) {
		return ctx, func() {}, nil
	}

	s := l.slot(id)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-s })
	}
	return withHeld(ctx, id), release, nil
}

// Busy reports whether some caller currently holds the session.
func (l *Locker) Busy(id string) bool {
	return len(l.slot(id)) > 0
}

type heldKey struct{}

type heldSet map[string]struct{}

func withHeld(ctx context.Context, id string) context.Context {
	prev, _ := ctx.Value(heldKey{}).(heldSet)
	next := make(heldSet, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	return context.WithValue(ctx, heldKey{}, next)
}

// Held reports whether ctx was produced by an Acquire of id.
func Held(ctx context.Context, id string) bool {
	set, _ := ctx.Value(heldKey{}).(heldSet)
	_, ok := set[id]
	return ok
}
