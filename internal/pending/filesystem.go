package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"newswave/internal/nw"
)

// fileSystemStore persists the queue as a single JSON file:
//
//	<dir>/
//	  queue.json    (ordered list of pending entries)
type fileSystemStore struct {
	queuePath string
}

// NewFileSystemQueue creates a pending queue persisted under dir.
func NewFileSystemQueue(dir string, clock nw.Clock, idgen nw.IDGenerator) (*Queue, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create pending directory: %w", err)
	}
	return newQueue(&fileSystemStore{queuePath: filepath.Join(dir, "queue.json")}, clock, idgen), nil
}

func (f *fileSystemStore) load() ([]Entry, error) {
	data, err := os.ReadFile(f.queuePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing queue file: %w", err)
	}
	return entries, nil
}

// save writes the queue atomically (temp file + rename).
func (f *fileSystemStore) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(f.queuePath), ".tmp-*")
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
		return fmt.Errorf("failed to write queue: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.queuePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func (f *fileSystemStore) Append(e *Entry) error {
	entries, err := f.load()
	if err != nil {
		return err
	}
	return f.save(append(entries, *e))
}

func (f *fileSystemStore) Find(contentRef, author string) (*Entry, error) {
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return findEntry(entries, contentRef, author), nil
}

func (f *fileSystemStore) Update(e *Entry) error {
	entries, err := f.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(entries, func(x Entry) bool { return x.ID == e.ID })
	if i < 0 {
		return fmt.Errorf("entry %s not found", e.ID)
	}
	entries[i] = *e
	return f.save(entries)
}

func (f *fileSystemStore) Remove(id string) error {
	entries, err := f.load()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(entries, func(x Entry) bool { return x.ID == id })
	return f.save(kept)
}

func (f *fileSystemStore) List() ([]Entry, error) {
	return f.load()
}

func (f *fileSystemStore) Len() (int, error) {
	entries, err := f.load()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
