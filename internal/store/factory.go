package store

import (
	"context"
	"fmt"
	"os"

	"newswave/internal/config"
	"newswave/internal/nw"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the store config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (nw.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBlobStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem store")
		}
		s, err := NewFileSystemBlobStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		if err := s.ValidateSetup(); err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3BlobStore(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv("NW_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("NW_S3_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gateway":
		s, err := NewGatewayBlobStore(cfg.GatewayURL, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

