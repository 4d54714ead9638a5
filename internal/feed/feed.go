// Package feed carries "collection changed" notifications between document
// store instances so live subscriptions refresh after writes made elsewhere.
package feed

import (
	"context"
	"sync"
	"time"
)

// Event announces that a collection changed.
type Event struct {
	Source     string    `json:"source"`
	Collection string    `json:"collection"`
	SentAt     time.Time `json:"sent_at"`
}

// Bus transports change events.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Listen(fn func(Event)) (func(), error)
}

// Local is an in-process bus. Listeners run on the publisher's goroutine and
// must not block.
type Local struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(Event)
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{listeners: make(map[int]func(Event))}
}

// Publish delivers ev to every listener.
func (l *Local) Publish(_ context.Context, ev Event) error {
	l.mu.RLock()
	fns := make([]func(Event), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Listen registers fn and returns a function that removes it.
func (l *Local) Listen(fn func(Event)) (func(), error) {
	l.mu.Lock()
	id := l.next
	l.next++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}, nil
}
