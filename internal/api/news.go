package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"newswave/internal/nw"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// PublishRequest is the request body for publishing news.
type PublishRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// RecordRequest is the request body for recording already stored content.
type RecordRequest struct {
	ContentRef string `json:"contentRef"`
	Title      string `json:"title"`
}

// ReceiptResponse is returned after a successful publish or record.
type ReceiptResponse struct {
	SubmissionID      string   `json:"submissionId"`
	ContentRef        string   `json:"contentRef"`
	SequenceIndex     uint64   `json:"index"`
	Author            string   `json:"author"`
	VerificationScore *float64 `json:"verificationScore,omitempty"`
}

// SkippedResponse describes a ledger index left out of a listing.
type SkippedResponse struct {
	Index uint64 `json:"index"`
	Error string `json:"error"`
}

// ListResponse is the response body for a listing.
type ListResponse struct {
	Count    uint64            `json:"count"`
	Filter   string            `json:"filter"`
	Items    []*nw.NewsItem    `json:"items"`
	Skipped  []SkippedResponse `json:"skipped,omitempty"`
	Degraded int               `json:"degraded"`
}

// ArticleResponse is the response body for a single article.
type ArticleResponse struct {
	ContentRef        string  `json:"contentRef"`
	Title             string  `json:"title"`
	Content           string  `json:"content"`
	Author            string  `json:"author"`
	Timestamp         int64   `json:"timestamp"`
	VerificationScore float64 `json:"verificationScore"`
	Scored            bool    `json:"scored"`
	Classification    string  `json:"classification"`
}

// ListNews returns all news, optionally filtered by classification.
func (s *Server) ListNews(w http.ResponseWriter, r *http.Request) {
	filter := strings.ToLower(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = "all"
	}
	if filter != "all" && filter != string(nw.Verified) && filter != string(nw.Questionable) {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "filter must be all, verified or questionable"})
		return
	}

	listing, err := s.news.List(r.Context())
	if err != nil {
		s.logger.Error("listing news failed", "error", err)
		writeError(w, r, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	items := listing.Items
	if filter != "all" {
		items = listing.Filter(nw.Classification(filter))
	}
	resp := ListResponse{
		Count:    listing.Count,
		Filter:   filter,
		Items:    items,
		Degraded: listing.Degraded(),
	}
	for _, sk := range listing.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedResponse{Index: sk.Index, Error: sk.Err.Error()})
	}
	render.JSON(w, r, resp)
}

// GetNews returns a single article by content reference.
func (s *Server) GetNews(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	article, err := s.news.Show(r.Context(), ref)
	if err != nil {
		writeError(w, r, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	score := article.Score()
	render.JSON(w, r, ArticleResponse{
		ContentRef:        article.ContentRef,
		Title:             article.Blob.Title,
		Content:           article.Blob.Content,
		Author:            article.Blob.Author,
		Timestamp:         article.Blob.Timestamp,
		VerificationScore: score,
		Scored:            article.Blob.VerificationScore != nil,
		Classification:    string(nw.Classify(score)),
	})
}

// PublishNews runs the full publication pipeline for the server's identity.
func (s *Server) PublishNews(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	receipt, err := s.news.Publish(r.Context(), nw.Draft{Title: req.Title, Content: req.Content})
	if err != nil {
		writePublishError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receiptResponse(receipt))
}

// RecordNews records content that is already stored.
func (s *Server) RecordNews(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	receipt, err := s.news.RecordOnly(r.Context(), req.ContentRef, req.Title)
	if err != nil {
		writePublishError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receiptResponse(receipt))
}

func receiptResponse(rc *nw.Receipt) ReceiptResponse {
	return ReceiptResponse{
		SubmissionID:      rc.SubmissionID,
		ContentRef:        rc.ContentRef,
		SequenceIndex:     rc.SequenceIndex,
		Author:            rc.Author,
		VerificationScore: rc.Score,
	}
}

type errorResponse struct {
	Error       string `json:"error"`
	Stage       string `json:"stage,omitempty"`
	ContentRef  string `json:"contentRef,omitempty"`
	LedgerWrite string `json:"ledgerWrite,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func writePublishError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	if pe, ok := nw.AsPublishError(err); ok {
		resp.Stage = pe.Stage.String()
		resp.ContentRef = pe.ContentRef
		if pe.Stage == nw.StageRecording {
			resp.LedgerWrite = pe.LedgerWrite.String()
		}
	}
	writeError(w, r, statusFor(err), resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, nw.ErrIdentityUnavailable):
		return http.StatusUnauthorized
	case errors.Is(err, nw.ErrInvalidSubmission):
		return http.StatusBadRequest
	case errors.Is(err, nw.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, nw.ErrSubmissionRejected):
		return http.StatusConflict
	case errors.Is(err, nw.ErrVerificationTimeout), errors.Is(err, nw.ErrSubmissionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, nw.ErrVerificationUnavailable), errors.Is(err, nw.ErrContentStoreFailure), errors.Is(err, nw.ErrContentCorrupt):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
