package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"newswave/internal/nw"
)

// StubVerifier returns a fixed score, optionally after a delay or with an
// error.
type StubVerifier struct {
	Result float64
	Err    error
	// Delay is waited before answering; a done context ends it early.
	Delay time.Duration

	calls atomic.Int64
}

func NewStubVerifier(score float64) *StubVerifier {
	return &StubVerifier{Result: score}
}

// Calls returns how many times Score was called.
func (v *StubVerifier) Calls() int { return int(v.calls.Load()) }

func (v *StubVerifier) Score(ctx context.Context, _ *nw.ContentBlob) (float64, error) {
	v.calls.Add(1)
	if v.Delay > 0 {
		select {
		case <-time.After(v.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if v.Err != nil {
		return 0, v.Err
	}
	return v.Result, nil
}

// Compile-time check that StubVerifier implements nw.ContentVerifier interface
var _ nw.ContentVerifier = (*StubVerifier)(nil)
