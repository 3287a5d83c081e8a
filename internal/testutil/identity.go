package testutil

import (
	"context"
	"fmt"
	"sync"

	"newswave/internal/nw"
)

// StubIdentity is an nw.IdentityProvider whose binding tests switch by hand.
type StubIdentity struct {
	mu    sync.Mutex
	id    nw.Identity
	subs  map[int]func(nw.Identity, bool)
	next  int
	reads int
}

// NewStubIdentity creates a provider bound to address; "" starts unbound.
func NewStubIdentity(address string) *StubIdentity {
	return &StubIdentity{id: nw.Identity{Address: address}, subs: make(map[int]func(nw.Identity, bool))}
}

// Reads returns how many times Current was called.
func (s *StubIdentity) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *StubIdentity) Current(ctx context.Context) (nw.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if !s.id.Bound() {
		return nw.Identity{}, fmt.Errorf("stub unbound: %w", nw.ErrIdentityUnavailable)
	}
	return s.id, nil
}

func (s *StubIdentity) Subscribe(fn func(nw.Identity, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set switches the binding to address and notifies subscribers.
func (s *StubIdentity) Set(address string) {
	s.mu.Lock()
	s.id = nw.Identity{Address: address}
	fns := make([]func(nw.Identity, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	id := s.id
	s.mu.Unlock()
	for _, fn := range fns {
		fn(id, id.Bound())
	}
}

// Compile-time check that StubIdentity implements nw.IdentityProvider interface
var _ nw.IdentityProvider = (*StubIdentity)(nil)
