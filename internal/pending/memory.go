package pending

import (
	"fmt"
	"slices"

	"newswave/internal/nw"
)

// memoryStore keeps entries in a slice. Useful for testing.
type memoryStore struct {
	entries []Entry
}

// NewMemoryQueue creates an in-memory pending queue.
func NewMemoryQueue(clock nw.Clock, idgen nw.IDGenerator) *Queue {
	return newQueue(&memoryStore{}, clock, idgen)
}

func (m *memoryStore) Append(e *Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryStore) Find(contentRef, author string) (*Entry, error) {
	return findEntry(m.entries, contentRef, author), nil
}

func (m *memoryStore) Update(e *Entry) error {
	i := slices.IndexFunc(m.entries, func(x Entry) bool { return x.ID == e.ID })
	if i < 0 {
		return fmt.Errorf("entry %s not found", e.ID)
	}
	m.entries[i] = *e
	return nil
}

func (m *memoryStore) Remove(id string) error {
	m.entries = slices.DeleteFunc(m.entries, func(x Entry) bool { return x.ID == id })
	return nil
}

func (m *memoryStore) List() ([]Entry, error) {
	return slices.Clone(m.entries), nil
}

func (m *memoryStore) Len() (int, error) {
	return len(m.entries), nil
}

func findEntry(entries []Entry, contentRef, author string) *Entry {
	for _, e := range entries {
		if e.ContentRef == contentRef && e.Author == author {
			return &e
		}
	}
	return nil
}
