package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"newswave/internal/nw"
)

// FakeStore is an in-memory nw.ContentStore keyed by the sha256 of the
// encoded blob, with injectable failures and call counters.
type FakeStore struct {
	mu    sync.Mutex
	blobs map[string]*nw.ContentBlob
	// PutErr is returned by Put without storing.
	PutErr error
	// GetErr maps references to errors returned by Get.
	GetErr map[string]error

	putCalls atomic.Int64
	getCalls atomic.Int64
}

func NewFakeStore() *FakeStore {
	return &FakeStore{blobs: make(map[string]*nw.ContentBlob), GetErr: make(map[string]error)}
}

// PutCalls returns how many times Put was called.
func (s *FakeStore) PutCalls() int { return int(s.putCalls.Load()) }

// GetCalls returns how many times Get was called.
func (s *FakeStore) GetCalls() int { return int(s.getCalls.Load()) }

// Len returns the number of stored blobs.
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func (s *FakeStore) Put(ctx context.Context, blob *nw.ContentBlob) (string, error) {
	s.putCalls.Add(1)
	if s.PutErr != nil {
		return "", s.PutErr
	}
	data, err := nw.EncodeBlob(blob)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	ref := "fake-" + hex.EncodeToString(sum[:])

	cp := *blob
	s.mu.Lock()
	s.blobs[ref] = &cp
	s.mu.Unlock()
	return ref, nil
}

func (s *FakeStore) Get(ctx context.Context, ref string) (*nw.ContentBlob, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.GetErr[ref]; ok {
		return nil, err
	}
	b, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", nw.ErrContentNotFound, ref)
	}
	cp := *b
	return &cp, nil
}

// Compile-time check that FakeStore implements nw.ContentStore interface
var _ nw.ContentStore = (*FakeStore)(nil)
