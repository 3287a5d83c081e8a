package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"newswave/internal/identity"
	"newswave/internal/ledger"
	"newswave/internal/nw"
	"newswave/internal/store"
	"newswave/internal/testutil"
	"newswave/internal/verifier"
)

const testAuthor = "0x1111111111111111111111111111111111111111"

// coreService adapts the core publisher and aggregator to NewsService.
type coreService struct {
	pub     *nw.Publisher
	agg     *nw.Aggregator
	session *nw.Session
}

func (c *coreService) Publish(ctx context.Context, d nw.Draft) (*nw.Receipt, error) {
	return c.pub.Publish(ctx, c.session, d)
}

func (c *coreService) RecordOnly(ctx context.Context, ref, title string) (*nw.Receipt, error) {
	return c.pub.RecordOnly(ctx, c.session, ref, title)
}

func (c *coreService) List(ctx context.Context) (*nw.Listing, error) { return c.agg.ListAll(ctx) }

func (c *coreService) Show(ctx context.Context, ref string) (*nw.Article, error) {
	return c.agg.Get(ctx, ref)
}

type testEnv struct {
	server   *httptest.Server
	provider *identity.StaticProvider
	blobs    *countingBlobs
	contents nw.ContentStore
}

// countingBlobs counts successful writes to the wrapped store.
type countingBlobs struct {
	nw.BlobStore
	puts atomic.Int64
}

func (c *countingBlobs) PutBytes(ctx context.Context, data []byte) (string, error) {
	ref, err := c.BlobStore.PutBytes(ctx, data)
	if err == nil {
		c.puts.Add(1)
	}
	return ref, err
}

func newTestEnv(t *testing.T, score float64, opts Options) *testEnv {
	t.Helper()
	clock := testutil.FixedClock()
	logger := nw.NewNopLogger()

	v, err := verifier.NewStaticVerifier(score)
	if err != nil {
		t.Fatalf("NewStaticVerifier() error = %v", err)
	}
	blobs := &countingBlobs{BlobStore: store.NewMemoryBlobStore()}
	contents := nw.NewContentStore(blobs)
	l := ledger.NewMemoryLedger(clock)
	provider := identity.NewStaticProvider(testAuthor)
	session := nw.NewSession(provider)
	t.Cleanup(session.Close)

	svc := &coreService{
		pub:     nw.NewPublisher(v, contents, l, logger, clock, testutil.NewStubIDGenerator(), nw.PublisherOptions{}),
		agg:     nw.NewAggregator(l, contents, logger, nw.AggregatorOptions{}),
		session: session,
	}
	if opts.Blobs == nil {
		opts.Blobs = blobs
	}
	srv := httptest.NewServer(NewServer(svc, logger, opts).Routes())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, provider: provider, blobs: blobs, contents: contents}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestPublishListAndShow(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})

	resp := env.postJSON(t, "/api/news", PublishRequest{Title: "Bridge reopens", Content: "Traffic resumes."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/news status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	receipt := decode[ReceiptResponse](t, resp)
	if receipt.SequenceIndex != 0 {
		t.Errorf("index = %d, want 0", receipt.SequenceIndex)
	}
	if receipt.Author != testAuthor {
		t.Errorf("author = %q, want %q", receipt.Author, testAuthor)
	}
	if receipt.VerificationScore == nil || *receipt.VerificationScore != 0.9 {
		t.Errorf("verificationScore = %v, want 0.9", receipt.VerificationScore)
	}

	tests := []struct {
		filter string
		want   int
	}{
		{filter: "", want: 1},
		{filter: "all", want: 1},
		{filter: "verified", want: 1},
		{filter: "questionable", want: 0},
	}
	for _, tt := range tests {
		t.Run("filter="+tt.filter, func(t *testing.T) {
			resp := env.get(t, "/api/news?filter="+tt.filter)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			list := decode[ListResponse](t, resp)
			if len(list.Items) != tt.want {
				t.Errorf("len(items) = %d, want %d", len(list.Items), tt.want)
			}
			if list.Count != 1 {
				t.Errorf("count = %d, want 1", list.Count)
			}
		})
	}

	resp = env.get(t, "/api/news/"+receipt.ContentRef)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/news/{ref} status = %d, want 200", resp.StatusCode)
	}
	article := decode[ArticleResponse](t, resp)
	if article.Title != "Bridge reopens" || article.Content != "Traffic resumes." {
		t.Errorf("article = %+v, want published title and content", article)
	}
	if article.Classification != string(nw.Verified) {
		t.Errorf("classification = %q, want %q", article.Classification, nw.Verified)
	}
}

func TestListNews_invalidFilter(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})
	resp := env.get(t, "/api/news?filter=trending")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestPublishNews_errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		unbind     bool
		wantStatus int
		wantStage  string
	}{
		{name: "empty title", body: PublishRequest{Content: "body"}, wantStatus: http.StatusBadRequest, wantStage: "idle"},
		{name: "malformed body", body: "not an object", wantStatus: http.StatusBadRequest},
		{name: "no identity", body: PublishRequest{Title: "t", Content: "c"}, unbind: true, wantStatus: http.StatusUnauthorized, wantStage: "idle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0.9, Options{})
			if tt.unbind {
				env.provider.Clear()
			}
			resp := env.postJSON(t, "/api/news", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			er := decode[errorResponse](t, resp)
			if er.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", er.Stage, tt.wantStage)
			}
			if n := env.blobs.puts.Load(); n != 0 {
				t.Errorf("store writes = %d, want 0", n)
			}
		})
	}
}

func TestRecordNews(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})
	ref, err := env.contents.Put(context.Background(), &nw.ContentBlob{Title: "Stored", Content: "Already uploaded", Author: testAuthor})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	resp := env.postJSON(t, "/api/news/record", RecordRequest{ContentRef: ref, Title: "Stored"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	receipt := decode[ReceiptResponse](t, resp)
	if receipt.ContentRef != ref {
		t.Errorf("contentRef = %q, want %q", receipt.ContentRef, ref)
	}
	if receipt.VerificationScore != nil {
		t.Errorf("verificationScore = %v, want nil for record-only", *receipt.VerificationScore)
	}
}

func TestGetNews_notFound(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})
	ref, _ := store.ComputeRef([]byte("never stored"))
	resp := env.get(t, "/api/news/"+ref)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestGateway_roundTrip(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})
	data := []byte(`{"title":"t","content":"c","author":"a","timestamp":1}`)

	resp, err := http.Post(env.server.URL+"/ipfs", "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /ipfs error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /ipfs status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	put := decode[gatewayPutResponse](t, resp)
	wantRef, _ := store.ComputeRef(data)
	if put.Ref != wantRef {
		t.Errorf("ref = %q, want %q", put.Ref, wantRef)
	}

	for _, path := range []string{"/ipfs/" + put.Ref, "/ipfs/" + put.Ref + "/0"} {
		resp := env.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
		got, _ := io.ReadAll(resp.Body)
		if !bytes.Equal(got, data) {
			t.Errorf("GET %s = %q, want %q", path, got, data)
		}
	}

	missing, _ := store.ComputeRef([]byte("missing"))
	if resp := env.get(t, "/ipfs/"+missing); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET unknown ref status = %d, want 404", resp.StatusCode)
	}
}

func TestGateway_servesGatewayBlobStore(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{})
	client, err := store.NewGatewayBlobStore(env.server.URL, env.server.Client())
	if err != nil {
		t.Fatalf("NewGatewayBlobStore() error = %v", err)
	}
	contents := nw.NewContentStore(client)

	blob := &nw.ContentBlob{Title: "Via gateway", Content: "body", Author: testAuthor, Timestamp: 42}
	ref, err := contents.Put(context.Background(), blob)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := contents.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != blob.Title || got.Timestamp != blob.Timestamp {
		t.Errorf("Get() = %+v, want %+v", got, blob)
	}
}

func TestPublishRateLimit(t *testing.T) {
	env := newTestEnv(t, 0.9, Options{PublishRate: 0.001, PublishBurst: 1})

	first := env.postJSON(t, "/api/news", PublishRequest{Title: "one", Content: "1"})
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusCreated)
	}
	second := env.postJSON(t, "/api/news", PublishRequest{Title: "two", Content: "2"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", second.StatusCode, http.StatusTooManyRequests)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Reads are not limited.
	if resp := env.get(t, "/api/news"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/news status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "nw_test_total", Help: "test"}))
	env := newTestEnv(t, 0.9, Options{Gatherer: reg})

	if resp := env.get(t, "/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", resp.StatusCode)
	}
	resp := env.get(t, "/metrics")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "nw_test_total") {
		t.Errorf("GET /metrics body missing nw_test_total: %q", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: %w", nw.ErrInvalidSubmission, nw.ErrIdentityUnavailable), want: http.StatusUnauthorized},
		{err: nw.ErrInvalidSubmission, want: http.StatusBadRequest},
		{err: nw.ErrContentNotFound, want: http.StatusNotFound},
		{err: nw.ErrSubmissionRejected, want: http.StatusConflict},
		{err: nw.ErrVerificationTimeout, want: http.StatusGatewayTimeout},
		{err: &nw.PublishError{Stage: nw.StageRecording, Cause: nw.ErrSubmissionTimeout}, want: http.StatusGatewayTimeout},
		{err: nw.ErrVerificationUnavailable, want: http.StatusBadGateway},
		{err: nw.ErrContentStoreFailure, want: http.StatusBadGateway},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
