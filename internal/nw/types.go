package nw

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VerifiedThreshold is the minimum verification score for an item to be
// classified as verified.
const VerifiedThreshold = 0.7

// DefaultScore is assigned to items whose content could not be fetched or
// carries no score.
const DefaultScore = 0.5

// ContentUnavailable is the body substituted for items whose blob could not
// be fetched.
const ContentUnavailable = "[content unavailable]"

// PublicationRecord is a ledger-resident entry. It is immutable once appended
// and every field except Title and ContentRef is assigned by the ledger.
type PublicationRecord struct {
	ContentRef    string
	Title         string
	RecordedAt    int64 // seconds since epoch, ledger-assigned
	Author        string
	SequenceIndex uint64
}

// RecordedAtMillis returns the ledger timestamp scaled to milliseconds.
func (r *PublicationRecord) RecordedAtMillis() int64 {
	return r.RecordedAt * 1000
}

// ContentBlob is the immutable article body kept in the content store.
// VerificationScore is nil when the content was never scored.
type ContentBlob struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Author            string   `json:"author"`
	Timestamp         int64    `json:"timestamp"`
	VerificationScore *float64 `json:"verificationScore,omitempty"`
}

// EncodeBlob serializes a blob deterministically: compact JSON with fields in
// declaration order and no HTML escaping, so identical blobs always produce
// identical bytes (and therefore identical content references).
func EncodeBlob(b *ContentBlob) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("encoding blob: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeBlob parses blob bytes. Bytes that are not a well-formed blob yield
// an error wrapping ErrContentCorrupt.
func DecodeBlob(data []byte) (*ContentBlob, error) {
	var raw struct {
		Title             *string  `json:"title"`
		Content           *string  `json:"content"`
		Author            string   `json:"author"`
		Timestamp         int64    `json:"timestamp"`
		VerificationScore *float64 `json:"verificationScore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentCorrupt, err)
	}
	if raw.Title == nil || raw.Content == nil {
		return nil, fmt.Errorf("%w: missing title or content", ErrContentCorrupt)
	}
	if s := raw.VerificationScore; s != nil && (*s < 0 || *s > 1) {
		return nil, fmt.Errorf("%w: verification score %v out of range", ErrContentCorrupt, *s)
	}
	return &ContentBlob{
		Title:             *raw.Title,
		Content:           *raw.Content,
		Author:            raw.Author,
		Timestamp:         raw.Timestamp,
		VerificationScore: raw.VerificationScore,
	}, nil
}

// Draft is the author-supplied part of a submission.
type Draft struct {
	Title   string
	Content string
}

// NewsItem is the read-side merge of one ledger record with its blob.
// It is rebuilt on every listing and never persisted.
type NewsItem struct {
	SequenceIndex     uint64  `json:"index"`
	ContentRef        string  `json:"contentRef"`
	Title             string  `json:"title"`
	Author            string  `json:"author"`
	RecordedAt        int64   `json:"recordedAt"` // milliseconds
	Content           string  `json:"content"`
	VerificationScore float64 `json:"verificationScore"`
	Scored            bool    `json:"scored"`
	ContentAvailable  bool    `json:"contentAvailable"`
	AuthorMismatch    bool    `json:"authorMismatch,omitempty"`
}

// Classification is the presentation bucket of an item.
type Classification string

const (
	Verified     Classification = "verified"
	Questionable Classification = "questionable"
)

// Classify buckets a verification score.
func Classify(score float64) Classification {
	if score >= VerifiedThreshold {
		return Verified
	}
	return Questionable
}

// Classification returns the bucket this item belongs to.
func (n *NewsItem) Classification() Classification {
	return Classify(n.VerificationScore)
}

// Article is a single blob fetched directly by its content reference.
type Article struct {
	ContentRef string
	Blob       *ContentBlob
}

// Score returns the article's verification score, or DefaultScore when it
// was never scored.
func (a *Article) Score() float64 {
	if a.Blob.VerificationScore == nil {
		return DefaultScore
	}
	return *a.Blob.VerificationScore
}
