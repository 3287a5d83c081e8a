package pending

// entryStore abstracts the storage mechanics of a pending queue.
// Concurrency is managed by the caller (Queue.mu), so stores do not need to
// be safe for concurrent use.
type entryStore interface {
	// Append adds an entry to the end of the queue.
	Append(e *Entry) error

	// Find returns the entry for contentRef and author, or nil.
	Find(contentRef, author string) (*Entry, error)

	// Update replaces the entry with the same ID.
	Update(e *Entry) error

	// Remove deletes the entry with the given ID. Removing an unknown ID is
	// not an error.
	Remove(id string) error

	// List returns all entries in insertion order.
	List() ([]Entry, error)

	// Len returns the number of entries.
	Len() (int, error)
}
