package nw

import "context"

// Ledger is an append-only, globally ordered record store. The ledger alone
// assigns SequenceIndex and RecordedAt; callers never coordinate ordering.
type Ledger interface {
	// Append records a new entry signed by signer and returns its sequence
	// index. The index equals the entry count just before the append.
	// Fails with ErrIdentityUnavailable when signer cannot sign,
	// ErrSubmissionRejected when the ledger refuses the entry and
	// ErrSubmissionTimeout when finality is not observed in time.
	// A successful append is durable and cannot be rolled back.
	Append(ctx context.Context, signer Identity, contentRef, title string) (uint64, error)

	// Count returns the number of appended records.
	Count(ctx context.Context) (uint64, error)

	// GetByIndex returns the record at index i, or ErrIndexOutOfRange when
	// i >= Count() at read time.
	GetByIndex(ctx context.Context, i uint64) (*PublicationRecord, error)

	// Subscribe delivers an event for every append observed after the call.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan LedgerEvent, error)

	// Close releases the ledger's resources.
	Close() error
}

// LedgerEvent is the out-of-band notification emitted by a successful append.
type LedgerEvent struct {
	Record PublicationRecord
}
