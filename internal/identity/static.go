package identity

import (
	"context"
	"fmt"
	"sync"

	"newswave/internal/nw"
)

// StaticProvider binds a fixed address with no signing key. It suits ledgers
// that trust the supplied author (memory, sqlite, redis) and tests, where
// Set and Clear simulate an external identity switch.
type StaticProvider struct {
	mu   sync.RWMutex
	id   nw.Identity
	subs subscribers
}

// NewStaticProvider creates a provider bound to address. An empty address
// starts unbound.
func NewStaticProvider(address string) *StaticProvider {
	return &StaticProvider{id: nw.Identity{Address: address}}
}

func (p *StaticProvider) Current(ctx context.Context) (nw.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nw.Identity{}, fmt.Errorf("%w: %v", nw.ErrIdentityUnavailable, err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.id.Bound() {
		return nw.Identity{}, fmt.Errorf("no address bound: %w", nw.ErrIdentityUnavailable)
	}
	return p.id, nil
}

func (p *StaticProvider) Subscribe(fn func(nw.Identity, bool)) func() {
	return p.subs.add(fn)
}

// Set binds id and notifies subscribers.
func (p *StaticProvider) Set(id nw.Identity) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
	p.subs.notify(id, id.Bound())
}

// Clear releases the binding and notifies subscribers.
func (p *StaticProvider) Clear() {
	p.Set(nw.Identity{})
}

// Compile-time check that StaticProvider implements nw.IdentityProvider interface
var _ nw.IdentityProvider = (*StaticProvider)(nil)
