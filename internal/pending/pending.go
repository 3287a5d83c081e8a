// Package pending keeps publications whose content was stored but whose
// ledger append failed, so they can be recorded later without re-uploading.
package pending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"newswave/internal/nw"
)

// Entry is one stored-but-unrecorded publication.
type Entry struct {
	ID         string    `json:"id"`
	ContentRef string    `json:"content_ref"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	// Uncertain is set when the failed append may have reached the ledger;
	// recording it again can produce a duplicate record.
	Uncertain bool `json:"uncertain,omitempty"`
}

// ErrAlreadyRecorded is returned by a RecordFunc that found the entry on
// the ledger already. Retry drops such entries without recording them.
var ErrAlreadyRecorded = errors.New("already recorded")

// RecordFunc records one entry on the ledger.
type RecordFunc func(ctx context.Context, e Entry) error

// Outcome is the result of retrying one entry.
type Outcome struct {
	Entry Entry
	Err   error
	// AlreadyRecorded is set when the entry was dropped because the ledger
	// held it before this retry.
	AlreadyRecorded bool
}

// Queue implements the pending queue on top of a pluggable entryStore.
// All shared algorithm logic lives here.
type Queue struct {
	store entryStore
	clock nw.Clock
	idgen nw.IDGenerator
	mu    sync.Mutex
}

func newQueue(store entryStore, clock nw.Clock, idgen nw.IDGenerator) *Queue {
	return &Queue{store: store, clock: clock, idgen: idgen}
}

// Add enqueues a failed publication. Adding the same reference for the same
// author again returns the existing entry.
func (q *Queue) Add(contentRef, title, author string, uncertain bool) (*Entry, error) {
	if strings.TrimSpace(contentRef) == "" {
		return nil, fmt.Errorf("pending entry requires a content reference")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.store.Find(contentRef, author)
	if err != nil {
		return nil, fmt.Errorf("checking queue: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	e := &Entry{
		ID:         q.idgen.New(),
		ContentRef: contentRef,
		Title:      title,
		Author:     author,
		CreatedAt:  q.clock.Now(),
		Uncertain:  uncertain,
	}
	if err := q.store.Append(e); err != nil {
		return nil, fmt.Errorf("adding to queue: %w", err)
	}
	return e, nil
}

// List returns all entries, oldest first.
func (q *Queue) List() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.List()
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Len()
}

// Remove drops an entry by ID.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Remove(id)
}

// Retry calls fn for every queued entry, oldest first. Entries fn records
// successfully, or reports as ErrAlreadyRecorded, are removed; failed ones
// stay queued with the error noted.
// fn runs outside the queue lock.
func (q *Queue) Retry(ctx context.Context, fn RecordFunc) ([]Outcome, error) {
	entries, err := q.List()
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		ferr := fn(ctx, e)
		found := errors.Is(ferr, ErrAlreadyRecorded)
		if found {
			ferr = nil
		}

		q.mu.Lock()
		if ferr == nil {
			err = q.store.Remove(e.ID)
		} else {
			e.Attempts++
			e.LastError = ferr.Error()
			err = q.store.Update(&e)
		}
		q.mu.Unlock()
		if err != nil {
			return outcomes, fmt.Errorf("updating queue entry %s: %w", e.ID, err)
		}
		outcomes = append(outcomes, Outcome{Entry: e, Err: ferr, AlreadyRecorded: found})
	}
	return outcomes, nil
}
