package nw

import "context"

// ContentVerifier scores a draft against an external scoring service.
// Implementations never retry; retry policy belongs to the caller.
type ContentVerifier interface {
	// Score returns a trust score in [0,1]. Fails with
	// ErrVerificationUnavailable on transport errors and
	// ErrVerificationTimeout when the bounded wait is exceeded.
	Score(ctx context.Context, blob *ContentBlob) (float64, error)
}
