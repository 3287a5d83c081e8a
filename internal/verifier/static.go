package verifier

import (
	"context"

	"newswave/internal/nw"
)

// StaticVerifier gives every blob the same score.
type StaticVerifier struct {
	score float64
}

// NewStaticVerifier creates a verifier that always returns score.
func NewStaticVerifier(score float64) (*StaticVerifier, error) {
	if _, err := checkScore(score); err != nil {
		return nil, err
	}
	return &StaticVerifier{score: score}, nil
}

func (s *StaticVerifier) Score(ctx context.Context, _ *nw.ContentBlob) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(ctx, err)
	}
	return s.score, nil
}

// Compile-time check that StaticVerifier implements nw.ContentVerifier interface
var _ nw.ContentVerifier = (*StaticVerifier)(nil)
