package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"newswave/internal/nw"
)

// MemoryBlobStore is an in-memory implementation of nw.BlobStore.
// It is useful for testing and is safe for concurrent use.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte // ref -> bytes
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// PutBytes stores data under its reference. Storing the same bytes twice is
// a no-op.
func (m *MemoryBlobStore) PutBytes(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := ComputeRef(data)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = bytes.Clone(data)
	}
	return ref, nil
}

func (m *MemoryBlobStore) GetBytes(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", nw.ErrContentNotFound, ref)
	}
	return bytes.Clone(data), nil
}

// Compile-time check that MemoryBlobStore implements nw.BlobStore interface
var _ nw.BlobStore = (*MemoryBlobStore)(nil)
