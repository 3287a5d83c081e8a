// Package ledger implements nw.Ledger backends: an in-memory ledger for
// tests, a durable SQLite ledger, a Redis list ledger and an Ethereum
// contract ledger.
package ledger

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"newswave/internal/nw"
)

const (
	// MaxTitleLength is the longest title, in bytes, a ledger accepts.
	MaxTitleLength = 512
	// MaxContentRefLength is the longest content reference a ledger accepts.
	MaxContentRefLength = 256
)

// validateEntry rejects arguments every backend refuses to append.
func validateEntry(signer nw.Identity, contentRef, title string) error {
	if !signer.Bound() {
		return fmt.Errorf("no signer bound: %w", nw.ErrIdentityUnavailable)
	}
	switch {
	case strings.TrimSpace(contentRef) == "":
		return fmt.Errorf("%w: empty content reference", nw.ErrSubmissionRejected)
	case len(contentRef) > MaxContentRefLength:
		return fmt.Errorf("%w: content reference exceeds %d bytes", nw.ErrSubmissionRejected, MaxContentRefLength)
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("%w: empty title", nw.ErrSubmissionRejected)
	case len(title) > MaxTitleLength:
		return fmt.Errorf("%w: title exceeds %d bytes", nw.ErrSubmissionRejected, MaxTitleLength)
	case !utf8.ValidString(title) || !utf8.ValidString(contentRef):
		return fmt.Errorf("%w: arguments are not valid UTF-8", nw.ErrSubmissionRejected)
	}
	return nil
}

func outOfRange(i, count uint64) error {
	return fmt.Errorf("%w: index %d, count %d", nw.ErrIndexOutOfRange, i, count)
}
