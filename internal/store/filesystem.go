package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"newswave/internal/nw"
)

// FileSystemBlobStore keeps each blob as a file named by its reference:
//
//	<root>/
//	  content/
//	    <ref>
type FileSystemBlobStore struct {
	root       string
	contentDir string
}

// NewFileSystemBlobStore creates a store rooted at the given path.
func NewFileSystemBlobStore(root string) (*FileSystemBlobStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemBlobStore{root: root, contentDir: contentDir}, nil
}

// PutBytes stores data under its reference. The operation is idempotent:
// an existing file for the reference is left untouched.
func (s *FileSystemBlobStore) PutBytes(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := ComputeRef(data)
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(s.contentDir, ref)

	if _, err := os.Stat(destPath); err == nil {
		return ref, nil
	}
	if err := s.writeFile(destPath, data); err != nil {
		return "", err
	}
	return ref, nil
}

// GetBytes reads the blob for ref and checks it still hashes to ref.
func (s *FileSystemBlobStore) GetBytes(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Only well-formed references become file names.
	if _, err := ParseRef(ref); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.contentDir, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", nw.ErrContentNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if err := VerifyRef(ref, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemBlobStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func (s *FileSystemBlobStore) writeFile(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemBlobStore implements nw.BlobStore interface
var _ nw.BlobStore = (*FileSystemBlobStore)(nil)
