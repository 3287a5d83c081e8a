package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"golang.org/x/time/rate"

	"newswave/internal/nw"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

const scorePrompt = `You are a fact-checking assistant. Rate how credible the following news article is, from 0 (fabricated or misleading) to 1 (accurate and well sourced).

Respond with ONLY the number, nothing else.

Title: %s
Content: %s`

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// OpenAIVerifier asks a chat-completions model to score the article.
type OpenAIVerifier struct {
	url     string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIVerifier creates a verifier. Empty url and model select the
// OpenAI endpoint and gpt-4o-mini.
func NewOpenAIVerifier(url, apiKey, model string, ratePerSecond float64, client *http.Client) (*OpenAIVerifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai verifier requires an api key")
	}
	if url == "" {
		url = defaultOpenAIURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIVerifier{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		client:  client,
		limiter: newLimiter(ratePerSecond),
	}, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAIVerifier) Score(ctx context.Context, blob *nw.ContentBlob) (float64, error) {
	if err := wait(ctx, o.limiter); err != nil {
		return 0, err
	}

	body, _ := json.Marshal(openaiRequest{
		Model:    o.model,
		Messages: []openaiMessage{{Role: "user", Content: fmt.Sprintf(scorePrompt, blob.Title, blob.Content)}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", nw.ErrVerificationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("%w: openai API %d: %s", nw.ErrVerificationUnavailable, resp.StatusCode, string(b))
	}

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return 0, classify(ctx, err)
	}
	if len(or.Choices) == 0 {
		return 0, fmt.Errorf("%w: empty openai response", nw.ErrVerificationUnavailable)
	}

	reply := or.Choices[0].Message.Content
	m := numberPattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("%w: no score in reply %q", nw.ErrVerificationUnavailable, truncate(reply, 80))
	}
	score, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", nw.ErrVerificationUnavailable, err)
	}
	return checkScore(score)
}

// Compile-time check that OpenAIVerifier implements nw.ContentVerifier interface
var _ nw.ContentVerifier = (*OpenAIVerifier)(nil)
