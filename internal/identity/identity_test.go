package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"newswave/internal/config"
	"newswave/internal/nw"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) fn(_ nw.Identity, bound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, bound)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider("0xabc")

	id, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if id.Address != "0xabc" {
		t.Errorf("Address = %q, want %q", id.Address, "0xabc")
	}

	var rec recorder
	cancel := p.Subscribe(rec.fn)

	p.Clear()
	if _, err := p.Current(ctx); !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Errorf("Current() after Clear error = %v, want ErrIdentityUnavailable", err)
	}
	p.Set(nw.Identity{Address: "0xdef"})
	if rec.count() != 2 || rec.events[0] || !rec.events[1] {
		t.Errorf("events = %v, want [false true]", rec.events)
	}

	cancel()
	p.Set(nw.Identity{Address: "0x123"})
	if rec.count() != 2 {
		t.Errorf("events after cancel = %d, want 2", rec.count())
	}
}

func TestStaticProvider_Unbound(t *testing.T) {
	_, err := NewStaticProvider("").Current(context.Background())
	if !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Errorf("Current() error = %v, want ErrIdentityUnavailable", err)
	}
}

func TestKeyFileProvider(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys", "nw.key")
	p := NewKeyFileProvider(path)

	var rec recorder
	p.Subscribe(rec.fn)

	if _, err := p.Current(ctx); !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Fatalf("Current() without key error = %v, want ErrIdentityUnavailable", err)
	}
	if rec.count() != 0 {
		t.Errorf("events before any binding = %d, want 0", rec.count())
	}

	addr, err := GenerateKeyFile(path)
	if err != nil {
		t.Fatalf("GenerateKeyFile() error = %v", err)
	}
	id, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if id.Address != addr {
		t.Errorf("Address = %q, want %q", id.Address, addr)
	}
	if id.Key == nil {
		t.Error("Key = nil, want loaded key")
	}
	// A second read of the same key is not a change.
	if _, err := p.Current(ctx); err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("events after binding = %d, want 1", rec.count())
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := p.Current(ctx); !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Errorf("Current() after key removal error = %v, want ErrIdentityUnavailable", err)
	}
	if rec.count() != 2 || rec.events[1] {
		t.Errorf("events = %v, want a release after the binding", rec.events)
	}
}

func TestGenerateKeyFile_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nw.key")
	if _, err := GenerateKeyFile(path); err != nil {
		t.Fatalf("GenerateKeyFile() error = %v", err)
	}
	if _, err := GenerateKeyFile(path); err == nil {
		t.Error("second GenerateKeyFile() expected error")
	}
}

func TestSession_RebindsAfterProviderChange(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider("0xaaa")
	s := nw.NewSession(p)
	defer s.Close()

	if got := s.Address(ctx); got != "0xaaa" {
		t.Errorf("Address() = %q, want %q", got, "0xaaa")
	}
	p.Set(nw.Identity{Address: "0xbbb"})
	if got := s.Address(ctx); got != "0xbbb" {
		t.Errorf("Address() after switch = %q, want %q", got, "0xbbb")
	}
	p.Clear()
	if _, err := s.Bind(ctx); !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Errorf("Bind() after release error = %v, want ErrIdentityUnavailable", err)
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.IdentityConfig
		wantErr bool
	}{
		{"static", config.IdentityConfig{Type: "static", Address: "0xabc"}, false},
		{"keyfile", config.IdentityConfig{Type: "keyfile", KeyFile: "/tmp/nw.key"}, false},
		{"keyfile without path", config.IdentityConfig{Type: "keyfile"}, true},
		{"unknown", config.IdentityConfig{Type: "wallet"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewProviderFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProviderFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewProviderFromConfig() returned nil")
			}
		})
	}
}
