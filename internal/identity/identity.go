// Package identity implements nw.IdentityProvider backends.
package identity

import (
	"sync"

	"newswave/internal/nw"
)

// subscribers fans binding changes out to registered callbacks.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(nw.Identity, bool)
}

func (s *subscribers) add(fn func(nw.Identity, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(nw.Identity, bool))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// notify calls every callback outside the lock.
func (s *subscribers) notify(id nw.Identity, bound bool) {
	s.mu.Lock()
	fns := make([]func(nw.Identity, bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, bound)
	}
}
