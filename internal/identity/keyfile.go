package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"newswave/internal/nw"
)

// KeyFileProvider binds the secp256k1 key stored hex-encoded in a file.
// The file is read on every Current call, so replacing or removing it
// switches or releases the identity.
type KeyFileProvider struct {
	path string
	subs subscribers

	mu   sync.Mutex
	last string // address seen on the previous read
}

// NewKeyFileProvider creates a provider for the key at path. The file need
// not exist yet.
func NewKeyFileProvider(path string) *KeyFileProvider {
	return &KeyFileProvider{path: path}
}

func (p *KeyFileProvider) Current(ctx context.Context) (nw.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nw.Identity{}, fmt.Errorf("%w: %v", nw.ErrIdentityUnavailable, err)
	}

	key, err := crypto.LoadECDSA(p.path)
	if err != nil {
		p.observe(nw.Identity{})
		if errors.Is(err, os.ErrNotExist) {
			return nw.Identity{}, fmt.Errorf("no key at %s: %w", p.path, nw.ErrIdentityUnavailable)
		}
		return nw.Identity{}, fmt.Errorf("loading key %s: %v: %w", p.path, err, nw.ErrIdentityUnavailable)
	}

	id := nw.Identity{Address: crypto.PubkeyToAddress(key.PublicKey).Hex(), Key: key}
	p.observe(id)
	return id, nil
}

// observe notifies subscribers when the address differs from the last read.
func (p *KeyFileProvider) observe(id nw.Identity) {
	p.mu.Lock()
	changed := p.last != id.Address
	p.last = id.Address
	p.mu.Unlock()

	if changed {
		p.subs.notify(id, id.Bound())
	}
}

func (p *KeyFileProvider) Subscribe(fn func(nw.Identity, bool)) func() {
	return p.subs.add(fn)
}

// GenerateKeyFile writes a new random key to path and returns its address.
// It refuses to overwrite an existing file.
func GenerateKeyFile(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("key file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return "", fmt.Errorf("saving key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Compile-time check that KeyFileProvider implements nw.IdentityProvider interface
var _ nw.IdentityProvider = (*KeyFileProvider)(nil)
