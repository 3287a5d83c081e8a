package nw_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"newswave/internal/nw"
	"newswave/internal/testutil"
)

func ptr(f float64) *float64 { return &f }

// seed stores a blob and appends a record for it.
func seed(t *testing.T, l *testutil.FakeLedger, s *testutil.FakeStore, title, author string, recordedAt int64, score *float64) string {
	t.Helper()
	ref, err := s.Put(context.Background(), &nw.ContentBlob{Title: title, Content: title + " body", Author: author, VerificationScore: score})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	l.AddRecord(nw.PublicationRecord{ContentRef: ref, Title: title, Author: author, RecordedAt: recordedAt})
	return ref
}

func TestAggregator_ListAll(t *testing.T) {
	l := testutil.NewFakeLedger(testutil.FixedClock())
	s := testutil.NewFakeStore()

	seed(t, l, s, "oldest", authorA, 100, ptr(0.9))
	seed(t, l, s, "tie-low", authorA, 200, ptr(0.3))
	seed(t, l, s, "tie-high", authorB, 200, ptr(0.7))
	seed(t, l, s, "newest", authorB, 300, nil)

	agg := nw.NewAggregator(l, s, nw.NewNopLogger(), nw.AggregatorOptions{Concurrency: 2})
	listing, err := agg.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}

	wantOrder := []string{"newest", "tie-high", "tie-low", "oldest"}
	if len(listing.Items) != len(wantOrder) {
		t.Fatalf("len(Items) = %d, want %d", len(listing.Items), len(wantOrder))
	}
	for i, title := range wantOrder {
		if got := listing.Items[i].Title; got != title {
			t.Errorf("Items[%d].Title = %q, want %q", i, got, title)
		}
	}

	if got := listing.Items[0].RecordedAt; got != 300_000 {
		t.Errorf("RecordedAt = %d, want 300000 (milliseconds)", got)
	}
	if got := listing.Items[0]; got.VerificationScore != nw.DefaultScore || got.Scored {
		t.Errorf("unscored item score = %v scored = %v, want %v false", got.VerificationScore, got.Scored, nw.DefaultScore)
	}

	verified := listing.Verified()
	if len(verified) != 2 || verified[0].Title != "tie-high" || verified[1].Title != "oldest" {
		t.Errorf("Verified() = %v, want tie-high and oldest", titles(verified))
	}
	if q := listing.Questionable(); len(q) != 2 {
		t.Errorf("Questionable() = %v, want 2 items", titles(q))
	}
	if listing.Count != 4 || len(listing.Skipped) != 0 || listing.Degraded() != 0 {
		t.Errorf("Count = %d, Skipped = %v, Degraded = %d, want 4, none, 0", listing.Count, listing.Skipped, listing.Degraded())
	}
}

func TestAggregator_ListAll_partialFailures(t *testing.T) {
	l := testutil.NewFakeLedger(testutil.FixedClock())
	s := testutil.NewFakeStore()

	for i := range 5 {
		seed(t, l, s, string(rune('a'+i)), authorA, int64(100+i), ptr(0.8))
	}
	l.GetErr[3] = errors.New("node timeout")
	missingRef := l.Records()[1].ContentRef
	s.GetErr[missingRef] = nw.ErrContentNotFound

	agg := nw.NewAggregator(l, s, nw.NewNopLogger(), nw.AggregatorOptions{})
	listing, err := agg.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}

	if len(listing.Items) != 4 {
		t.Fatalf("len(Items) = %d, want 4", len(listing.Items))
	}
	if len(listing.Skipped) != 1 || listing.Skipped[0].Index != 3 {
		t.Errorf("Skipped = %v, want index 3", listing.Skipped)
	}

	var degraded *nw.NewsItem
	for _, item := range listing.Items {
		if item.ContentRef == missingRef {
			degraded = item
		}
	}
	if degraded == nil {
		t.Fatal("degraded item missing from listing")
	}
	if degraded.ContentAvailable || degraded.Content != nw.ContentUnavailable || degraded.VerificationScore != nw.DefaultScore {
		t.Errorf("degraded item = %+v, want placeholder with default score", degraded)
	}
	if degraded.Title != "b" || degraded.Author != authorA {
		t.Errorf("degraded item keeps ledger fields, got title %q author %q", degraded.Title, degraded.Author)
	}
	if listing.Degraded() != 1 {
		t.Errorf("Degraded() = %d, want 1", listing.Degraded())
	}
}

func TestAggregator_ListAll_countUnreachable(t *testing.T) {
	l := testutil.NewFakeLedger(testutil.FixedClock())
	l.CountErr = errors.New("rpc down")

	agg := nw.NewAggregator(l, testutil.NewFakeStore(), nw.NewNopLogger(), nw.AggregatorOptions{})
	if _, err := agg.ListAll(context.Background()); err == nil {
		t.Error("ListAll() error = nil, want error when count is unreachable")
	}
}

func TestAggregator_ListAll_empty(t *testing.T) {
	agg := nw.NewAggregator(testutil.NewFakeLedger(testutil.FixedClock()), testutil.NewFakeStore(), nw.NewNopLogger(), nw.AggregatorOptions{})
	listing, err := agg.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(listing.Items) != 0 || listing.Count != 0 {
		t.Errorf("ListAll() = %+v, want empty listing", listing)
	}
}

func TestAggregator_authorMismatchAndScores(t *testing.T) {
	l := testutil.NewFakeLedger(testutil.FixedClock())
	s := testutil.NewFakeStore()

	ref, _ := s.Put(context.Background(), &nw.ContentBlob{Title: "case", Content: "x", Author: "0xabc", VerificationScore: ptr(0)})
	l.AddRecord(nw.PublicationRecord{ContentRef: ref, Title: "case", Author: "0xABC", RecordedAt: 2})
	ref2, _ := s.Put(context.Background(), &nw.ContentBlob{Title: "other", Content: "y", Author: "0xdef"})
	l.AddRecord(nw.PublicationRecord{ContentRef: ref2, Title: "other", Author: "0xABC", RecordedAt: 1})

	listing, err := nw.NewAggregator(l, s, nw.NewNopLogger(), nw.AggregatorOptions{}).ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}

	caseOnly, other := listing.Items[0], listing.Items[1]
	if caseOnly.AuthorMismatch {
		t.Error("AuthorMismatch = true for a case-only difference")
	}
	if !caseOnly.Scored || caseOnly.VerificationScore != 0 {
		t.Errorf("explicit zero score = %v scored = %v, want 0 true", caseOnly.VerificationScore, caseOnly.Scored)
	}
	if !other.AuthorMismatch {
		t.Error("AuthorMismatch = false for a different author")
	}
}

// gatedLedger tracks how many GetByIndex calls run at once.
type gatedLedger struct {
	*testutil.FakeLedger
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (g *gatedLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.FakeLedger.GetByIndex(ctx, i)
}

func TestAggregator_boundedConcurrency(t *testing.T) {
	g := &gatedLedger{FakeLedger: testutil.NewFakeLedger(testutil.FixedClock())}
	s := testutil.NewFakeStore()
	for i := range 20 {
		seed(t, g.FakeLedger, s, string(rune('a'+i)), authorA, int64(i), nil)
	}

	agg := nw.NewAggregator(g, s, nw.NewNopLogger(), nw.AggregatorOptions{Concurrency: 3})
	listing, err := agg.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(listing.Items) != 20 {
		t.Errorf("len(Items) = %d, want 20", len(listing.Items))
	}
	if peak := g.peak.Load(); peak > 3 {
		t.Errorf("peak concurrent reads = %d, want at most 3", peak)
	}
}

func TestAggregator_Get(t *testing.T) {
	s := testutil.NewFakeStore()
	ref, _ := s.Put(context.Background(), &nw.ContentBlob{Title: "Article", Content: "text", VerificationScore: ptr(0.75)})
	agg := nw.NewAggregator(testutil.NewFakeLedger(testutil.FixedClock()), s, nw.NewNopLogger(), nw.AggregatorOptions{})

	article, err := agg.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if article.Blob.Title != "Article" || article.Score() != 0.75 {
		t.Errorf("Get() = %+v score %v, want Article 0.75", article.Blob, article.Score())
	}

	tests := []struct {
		name string
		ref  string
	}{
		{name: "empty ref", ref: " "},
		{name: "unknown ref", ref: "fake-missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := agg.Get(context.Background(), tt.ref); !errors.Is(err, nw.ErrContentNotFound) {
				t.Errorf("Get(%q) error = %v, want ErrContentNotFound", tt.ref, err)
			}
		})
	}
}

func TestAggregator_FindRecord(t *testing.T) {
	l := testutil.NewFakeLedger(testutil.FixedClock())
	s := testutil.NewFakeStore()
	shared := seed(t, l, s, "shared", authorA, 100, ptr(0.9))
	seed(t, l, s, "other", authorB, 200, ptr(0.9))
	agg := nw.NewAggregator(l, s, nw.NewNopLogger(), nw.AggregatorOptions{})

	tests := []struct {
		name      string
		ref       string
		author    string
		wantIndex int // -1 for no record
	}{
		{"match", shared, authorA, 0},
		{"different author", shared, authorB, -1},
		{"unknown ref", "nope", authorA, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := agg.FindRecord(context.Background(), tt.ref, tt.author)
			if err != nil {
				t.Fatalf("FindRecord() error = %v", err)
			}
			if tt.wantIndex < 0 {
				if rec != nil {
					t.Errorf("FindRecord() = %+v, want nil", rec)
				}
				return
			}
			if rec == nil || rec.SequenceIndex != uint64(tt.wantIndex) {
				t.Errorf("FindRecord() = %+v, want index %d", rec, tt.wantIndex)
			}
		})
	}

	l.GetErr[1] = errors.New("rpc down")
	if _, err := agg.FindRecord(context.Background(), shared, authorA); err == nil {
		t.Error("FindRecord() with unreadable index succeeded, want error")
	}
}

func titles(items []*nw.NewsItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}
