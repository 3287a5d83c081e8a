package nw

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSubmission       = errors.New("invalid submission")
	ErrIdentityUnavailable     = errors.New("identity unavailable")
	ErrVerificationUnavailable = errors.New("verification unavailable")
	ErrVerificationTimeout     = errors.New("verification timed out")
	ErrContentStoreFailure     = errors.New("content store failure")
	ErrContentNotFound         = errors.New("content not found")
	ErrContentCorrupt          = errors.New("content corrupt")
	ErrSubmissionRejected      = errors.New("submission rejected")
	ErrSubmissionTimeout       = errors.New("submission timed out")
	ErrIndexOutOfRange         = errors.New("index out of range")
)

// PublishError reports a failed publication. It names the stage that failed
// and carries everything a caller needs to resume: after a Recording failure
// ContentRef holds the reference of the already-stored blob and Author the
// address the append was issued under.
type PublishError struct {
	Stage       Stage
	Cause       error
	ContentRef  string
	Author      string
	LedgerWrite LedgerWrite
}

// LedgerWrite describes what is known about the ledger after a failure.
type LedgerWrite int

const (
	// LedgerWriteNone means no append reached the ledger.
	LedgerWriteNone LedgerWrite = iota
	// LedgerWriteUnknown means an append was issued but its outcome was not
	// observed (timeout or cancellation while waiting for finality).
	LedgerWriteUnknown
)

func (w LedgerWrite) String() string {
	if w == LedgerWriteUnknown {
		return "ledger write may have happened"
	}
	return "nothing recorded on ledger"
}

func (e *PublishError) Error() string {
	if e.Stage == StageRecording {
		return fmt.Sprintf("publish failed at %s (content stored as %s, %s): %v",
			e.Stage, e.ContentRef, e.LedgerWrite, e.Cause)
	}
	return fmt.Sprintf("publish failed at %s (%s): %v", e.Stage, e.LedgerWrite, e.Cause)
}

func (e *PublishError) Unwrap() error { return e.Cause }

// Orphaned reports whether the content was stored but never recorded.
func (e *PublishError) Orphaned() bool {
	return e.Stage == StageRecording && e.ContentRef != ""
}

// AsPublishError extracts a *PublishError from an error chain.
func AsPublishError(err error) (*PublishError, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
