package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type subscription struct {
	query  Query
	fn     func([]Document)
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()
}

func (sub *subscription) stop() {
	sub.once.Do(func() {
		close(sub.done)
		sub.remove()
	})
}

func (sub *subscription) poke() {
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// Subscribe delivers the full result of q to fn now and again after every
// change to q's collection, until the returned function is called. Deliveries
// for one subscription never overlap; bursts of changes are coalesced.
func (s *Store) Subscribe(q Query, fn func([]Document)) (func(), error) {
	sub := &subscription{
		query:  q,
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("store is closed")
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.remove = func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	s.wg.Add(1)
	s.mu.Unlock()

	sub.poke()
	go s.run(sub)
	return sub.stop, nil
}

func (s *Store) run(sub *subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.signal:
		}

		docs, err := s.Query(context.Background(), sub.query)
		if err != nil {
			slog.Warn("subscription query failed", "collection", sub.query.Collection, "error", err)
			continue
		}
		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(docs)
	}
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.query.Collection == collection {
			sub.poke()
		}
	}
}
