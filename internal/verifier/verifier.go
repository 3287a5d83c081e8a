// Package verifier implements nw.ContentVerifier backends.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"

	"golang.org/x/time/rate"

	"newswave/internal/nw"
)

// request is the payload sent to remote scorers.
type request struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

func newRequest(blob *nw.ContentBlob) request {
	return request{
		Title:     blob.Title,
		Content:   blob.Content,
		Author:    blob.Author,
		Timestamp: blob.Timestamp,
	}
}

// newLimiter returns an unlimited limiter for perSecond <= 0.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// wait blocks for a request slot.
func wait(ctx context.Context, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: waiting for rate limit: %v", nw.ErrVerificationTimeout, err)
	}
	return nil
}

// classify maps a transport failure onto the verifier error taxonomy.
func classify(ctx context.Context, err error) error {
	var ne net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", nw.ErrVerificationTimeout, err)
	}
	return fmt.Errorf("%w: %v", nw.ErrVerificationUnavailable, err)
}

func checkScore(score float64) (float64, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: score %v outside [0,1]", nw.ErrVerificationUnavailable, score)
	}
	return score, nil
}
