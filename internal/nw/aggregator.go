package nw

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorOptions bounds the listing fan-out.
type AggregatorOptions struct {
	// Concurrency caps in-flight ledger and store reads.
	Concurrency int
	// CallTimeout bounds every single external read.
	CallTimeout time.Duration
}

// DefaultAggregatorOptions returns the limits used when none are configured.
func DefaultAggregatorOptions() AggregatorOptions {
	return AggregatorOptions{
		Concurrency: 8,
		CallTimeout: 15 * time.Second,
	}
}

// Aggregator rebuilds the visible article set from the ledger and the
// content store on every call. Nothing is cached between calls.
type Aggregator struct {
	ledger Ledger
	store  ContentStore
	logger Logger
	opts   AggregatorOptions
}

// NewAggregator creates an Aggregator. Non-positive options fall back to
// DefaultAggregatorOptions.
func NewAggregator(ledger Ledger, store ContentStore, logger Logger, opts AggregatorOptions) *Aggregator {
	def := DefaultAggregatorOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	return &Aggregator{ledger: ledger, store: store, logger: logger, opts: opts}
}

// SkippedRecord is a ledger index that could not be read during a listing.
type SkippedRecord struct {
	Index uint64
	Err   error
}

// Listing is the result of one ListAll call.
type Listing struct {
	// Count is the ledger count observed at fan-out start.
	Count uint64
	// Items are sorted newest first.
	Items []*NewsItem
	// Skipped lists indices whose record could not be read.
	Skipped []SkippedRecord
}

// Filter returns the items in class c, preserving order.
func (l *Listing) Filter(c Classification) []*NewsItem {
	out := make([]*NewsItem, 0, len(l.Items))
	for _, item := range l.Items {
		if item.Classification() == c {
			out = append(out, item)
		}
	}
	return out
}

// Verified returns the items with a score of at least VerifiedThreshold.
func (l *Listing) Verified() []*NewsItem { return l.Filter(Verified) }

// Questionable returns the items scored below VerifiedThreshold.
func (l *Listing) Questionable() []*NewsItem { return l.Filter(Questionable) }

// Degraded returns the number of items listed without their content.
func (l *Listing) Degraded() int {
	n := 0
	for _, item := range l.Items {
		if !item.ContentAvailable {
			n++
		}
	}
	return n
}

// ListAll reads every ledger record, fetches each record's blob and returns
// the merged items sorted newest first. It fails only when the ledger count
// cannot be read; per-record failures are absorbed.
func (a *Aggregator) ListAll(ctx context.Context) (*Listing, error) {
	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	n, err := a.ledger.Count(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reading ledger count: %w", err)
	}

	// Indices appended after this point are not part of this listing.
	items := make([]*NewsItem, n)
	var (
		mu      sync.Mutex
		skipped []SkippedRecord
	)

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i := uint64(0); i < n; i++ {
		g.Go(func() error {
			rec, err := a.record(ctx, i)
			if err != nil {
				a.logger.Warn("skipping ledger record", "index", i, "error", err)
				mu.Lock()
				skipped = append(skipped, SkippedRecord{Index: i, Err: err})
				mu.Unlock()
				return nil
			}
			blob, err := a.blob(ctx, rec.ContentRef)
			if err != nil {
				a.logger.Warn("content unavailable", "index", i, "ref", rec.ContentRef, "error", err)
			}
			items[i] = merge(rec, blob)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("listing cancelled: %w", err)
	}

	listing := &Listing{Count: n, Items: make([]*NewsItem, 0, n)}
	for _, item := range items {
		if item != nil {
			listing.Items = append(listing.Items, item)
		}
	}
	SortNewestFirst(listing.Items)
	slices.SortFunc(skipped, func(x, y SkippedRecord) int { return cmp.Compare(x.Index, y.Index) })
	listing.Skipped = skipped

	a.logger.Debug("listing built", "count", n, "items", len(listing.Items), "skipped", len(skipped), "degraded", listing.Degraded())
	return listing, nil
}

// Get fetches a single article by content reference. Unlike ListAll it
// reports store failures to the caller.
func (a *Aggregator) Get(ctx context.Context, ref string) (*Article, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: empty content reference", ErrContentNotFound)
	}
	blob, err := a.blob(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetching article %s: %w", ref, err)
	}
	return &Article{ContentRef: ref, Blob: blob}, nil
}

// FindRecord scans the ledger newest first for a record of contentRef
// signed by author. It returns nil, nil when there is none. Unlike ListAll,
// an unreadable index is an error: the answer would be unreliable.
func (a *Aggregator) FindRecord(ctx context.Context, contentRef, author string) (*PublicationRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	n, err := a.ledger.Count(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reading ledger count: %w", err)
	}
	for i := n; i > 0; i-- {
		rec, err := a.record(ctx, i-1)
		if err != nil {
			return nil, fmt.Errorf("reading ledger record %d: %w", i-1, err)
		}
		if rec.ContentRef == contentRef && strings.EqualFold(rec.Author, author) {
			return rec, nil
		}
	}
	return nil, nil
}

func (a *Aggregator) record(ctx context.Context, i uint64) (*PublicationRecord, error) {
	rctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.ledger.GetByIndex(rctx, i)
}

func (a *Aggregator) blob(ctx context.Context, ref string) (*ContentBlob, error) {
	bctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.store.Get(bctx, ref)
}

// merge builds a NewsItem. A nil blob produces the degraded placeholder:
// ledger membership is authoritative, content is best-effort.
func merge(rec *PublicationRecord, blob *ContentBlob) *NewsItem {
	item := &NewsItem{
		SequenceIndex:     rec.SequenceIndex,
		ContentRef:        rec.ContentRef,
		Title:             rec.Title,
		Author:            rec.Author,
		RecordedAt:        rec.RecordedAtMillis(),
		VerificationScore: DefaultScore,
	}
	if blob == nil {
		item.Content = ContentUnavailable
		return item
	}
	item.Content = blob.Content
	item.ContentAvailable = true
	if blob.VerificationScore != nil {
		item.VerificationScore = *blob.VerificationScore
		item.Scored = true
	}
	item.AuthorMismatch = blob.Author != "" && !strings.EqualFold(blob.Author, rec.Author)
	return item
}

// SortNewestFirst orders items by RecordedAt descending, breaking ties by
// SequenceIndex descending.
func SortNewestFirst(items []*NewsItem) {
	slices.SortFunc(items, func(x, y *NewsItem) int {
		if c := cmp.Compare(y.RecordedAt, x.RecordedAt); c != 0 {
			return c
		}
		return cmp.Compare(y.SequenceIndex, x.SequenceIndex)
	})
}
