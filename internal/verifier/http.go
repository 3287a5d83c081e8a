package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"newswave/internal/nw"
)

// HTTPVerifier posts the blob to a scoring endpoint. The endpoint answers
// with a bare number or {"score": n}.
type HTTPVerifier struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPVerifier creates a verifier for url. ratePerSecond <= 0 disables
// client-side rate limiting. A nil client uses http.DefaultClient; per-call
// deadlines come from the caller's context.
func NewHTTPVerifier(url, apiKey string, ratePerSecond float64, client *http.Client) *HTTPVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVerifier{
		url:     url,
		apiKey:  apiKey,
		client:  client,
		limiter: newLimiter(ratePerSecond),
	}
}

func (v *HTTPVerifier) Score(ctx context.Context, blob *nw.ContentBlob) (float64, error) {
	if err := wait(ctx, v.limiter); err != nil {
		return 0, err
	}

	body, err := json.Marshal(newRequest(blob))
	if err != nil {
		return 0, fmt.Errorf("%w: encoding request: %v", nw.ErrVerificationUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", nw.ErrVerificationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, classify(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: scorer returned %d: %s", nw.ErrVerificationUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	score, err := parseScore(b)
	if err != nil {
		return 0, err
	}
	return checkScore(score)
}

func parseScore(b []byte) (float64, error) {
	text := strings.TrimSpace(string(b))
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj.Score == nil {
		return 0, fmt.Errorf("%w: unrecognized scorer response %q", nw.ErrVerificationUnavailable, truncate(text, 80))
	}
	return *obj.Score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compile-time check that HTTPVerifier implements nw.ContentVerifier interface
var _ nw.ContentVerifier = (*HTTPVerifier)(nil)
