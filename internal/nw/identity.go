package nw

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
)

// Identity is a signing identity bound to a session.
type Identity struct {
	// Address is the public identifier recorded as a record's author.
	Address string
	// Key signs ledger submissions. It is nil for providers whose ledger
	// trusts the supplied address (local ledgers).
	Key *ecdsa.PrivateKey
}

// Bound reports whether the identity carries an address.
func (id Identity) Bound() bool {
	return id.Address != ""
}

// IdentityProvider surfaces the currently authorized signing identity.
type IdentityProvider interface {
	// Current returns the bound identity, or an error wrapping
	// ErrIdentityUnavailable when none is bound.
	Current(ctx context.Context) (Identity, error)

	// Subscribe registers fn to be called whenever the binding changes.
	// bound is false when the identity was released. The returned function
	// cancels the subscription.
	Subscribe(fn func(id Identity, bound bool)) (cancel func())
}

// Session is the explicit identity handle threaded through publication.
// It caches the last seen address for display and drops the cache when the
// provider reports a change. Publication never trusts the cache: Bind always
// re-reads the provider.
type Session struct {
	provider IdentityProvider
	cancel   func()

	mu     sync.Mutex
	cached *Identity
}

// NewSession creates a session over provider. Call Close to stop listening
// for binding changes.
func NewSession(provider IdentityProvider) *Session {
	s := &Session{provider: provider}
	s.cancel = provider.Subscribe(func(Identity, bool) {
		s.invalidate()
	})
	return s
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Bind reads the provider's current binding.
func (s *Session) Bind(ctx context.Context) (Identity, error) {
	if s == nil || s.provider == nil {
		return Identity{}, fmt.Errorf("no session: %w", ErrIdentityUnavailable)
	}
	id, err := s.provider.Current(ctx)
	if err != nil {
		s.invalidate()
		return Identity{}, err
	}
	if !id.Bound() {
		s.invalidate()
		return Identity{}, fmt.Errorf("provider returned empty address: %w", ErrIdentityUnavailable)
	}
	s.mu.Lock()
	s.cached = &id
	s.mu.Unlock()
	return id, nil
}

// Address returns the cached address, re-reading the provider when the cache
// was invalidated. It returns "" when no identity is bound.
func (s *Session) Address(ctx context.Context) string {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != nil {
		return cached.Address
	}
	id, err := s.Bind(ctx)
	if err != nil {
		return ""
	}
	return id.Address
}

// Close stops listening for binding changes.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
