package nw

import (
	"context"
	"errors"
	"fmt"
)

// ContentStore is a content-addressed store of immutable blobs.
type ContentStore interface {
	// Put stores blob and returns its content reference. Storing an
	// identical blob again returns the same reference and changes nothing.
	Put(ctx context.Context, blob *ContentBlob) (string, error)

	// Get fetches a blob. Fails with ErrContentNotFound for unknown
	// references and ErrContentCorrupt when the bytes do not parse.
	Get(ctx context.Context, ref string) (*ContentBlob, error)
}

// BlobStore is the byte-level backend under a ContentStore. References are
// derived from the bytes, so PutBytes is idempotent.
type BlobStore interface {
	PutBytes(ctx context.Context, data []byte) (string, error)
	// GetBytes fails with an error wrapping ErrContentNotFound when ref is
	// unknown to the store.
	GetBytes(ctx context.Context, ref string) ([]byte, error)
}

// blobContentStore applies the deterministic blob codec on top of a BlobStore.
type blobContentStore struct {
	blobs BlobStore
}

// NewContentStore returns a ContentStore that serializes blobs with
// EncodeBlob and keeps the bytes in blobs.
func NewContentStore(blobs BlobStore) ContentStore {
	return &blobContentStore{blobs: blobs}
}

func (s *blobContentStore) Put(ctx context.Context, blob *ContentBlob) (string, error) {
	data, err := EncodeBlob(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContentStoreFailure, err)
	}
	ref, err := s.blobs.PutBytes(ctx, data)
	if err != nil {
		return "", storeFailure(err)
	}
	return ref, nil
}

func (s *blobContentStore) Get(ctx context.Context, ref string) (*ContentBlob, error) {
	data, err := s.blobs.GetBytes(ctx, ref)
	if err != nil {
		return nil, storeFailure(err)
	}
	return DecodeBlob(data)
}

// storeFailure tags backend errors that are not already classified.
func storeFailure(err error) error {
	if errors.Is(err, ErrContentNotFound) || errors.Is(err, ErrContentCorrupt) || errors.Is(err, ErrContentStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrContentStoreFailure, err)
}
