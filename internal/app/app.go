package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"newswave/internal/api"
	"newswave/internal/config"
	"newswave/internal/identity"
	"newswave/internal/ledger"
	"newswave/internal/metrics"
	"newswave/internal/nw"
	"newswave/internal/pending"
	"newswave/internal/store"
	"newswave/internal/verifier"
)

// NWApp is the application layer between the CLI and the core publisher and
// aggregator. It constructs all dependencies from config, queues orphaned
// publications, and releases resources on Close.
type NWApp struct {
	cfg        *config.Config
	ledger     nw.Ledger
	blobs      nw.BlobStore
	contents   nw.ContentStore
	provider   nw.IdentityProvider
	session    *nw.Session
	queue      *pending.Queue
	publisher  *nw.Publisher
	aggregator *nw.Aggregator
	registry   *prometheus.Registry
	logger     nw.Logger
	op         *Operation
	logFile    *os.File
}

// NewNWApp creates a fully wired NWApp from the given config.
// operation identifies the CLI command being run (e.g. "Publish", "Serve").
// The caller must call Close when done.
func NewNWApp(ctx context.Context, cfg *config.Config, operation string) (*NWApp, error) {
	op := NewOperation(operation, time.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newNWApp(ctx, cfg, op, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newNWApp(ctx context.Context, cfg *config.Config, op *Operation, logger nw.Logger) (*NWApp, error) {
	clock := nw.RealClock{}
	idgen := nw.UUIDGenerator{}

	blobs, err := store.NewBlobStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	v, err := verifier.NewVerifierFromConfig(cfg.Verifier)
	if err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	provider, err := identity.NewProviderFromConfig(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}

	queue, err := pending.NewQueueFromConfig(cfg.Pending, clock, idgen)
	if err != nil {
		return nil, fmt.Errorf("creating pending queue: %w", err)
	}

	l, err := ledger.NewLedgerFromConfig(ctx, cfg.Ledger, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	if m, ok := l.(migrationChecker); ok {
		if err := m.CheckMigrations(); err != nil {
			l.Close()
			return nil, fmt.Errorf("ledger schema out of date: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics.RegisterCollectors(registry)

	contents := nw.NewContentStore(blobs)
	publisher := nw.NewPublisher(v, contents, l, logger, clock, idgen, nw.PublisherOptions{
		VerifyTimeout: cfg.Publish.VerifyTimeout.Duration,
		StoreTimeout:  cfg.Publish.StoreTimeout.Duration,
		RecordTimeout: cfg.Publish.RecordTimeout.Duration,
		Observers:     []nw.ProgressObserver{metrics.NewStageObserver(clock)},
	})
	aggregator := nw.NewAggregator(l, contents, logger, nw.AggregatorOptions{
		Concurrency: cfg.Aggregate.Concurrency,
		CallTimeout: cfg.Aggregate.CallTimeout.Duration,
	})

	logger.Debug("app initialized", "operation", op.Name, "ledger", cfg.Ledger.Type, "store", cfg.Store.Type, "verifier", cfg.Verifier.Type)

	return &NWApp{
		cfg:        cfg,
		ledger:     l,
		blobs:      blobs,
		contents:   contents,
		provider:   provider,
		session:    nw.NewSession(provider),
		queue:      queue,
		publisher:  publisher,
		aggregator: aggregator,
		registry:   registry,
		logger:     logger,
		op:         op,
	}, nil
}

// migrationChecker is implemented by ledgers with a versioned local schema.
type migrationChecker interface {
	CheckMigrations() error
}

// Operation returns the operation this app instance runs.
func (a *NWApp) Operation() *Operation { return a.op }

// Address returns the currently bound identity address, or "" when none is
// bound.
func (a *NWApp) Address(ctx context.Context) string {
	return a.session.Address(ctx)
}

// Publish runs the full publication pipeline. When content was stored but
// could not be recorded, the reference is queued for `pending retry` and the
// original error is returned.
func (a *NWApp) Publish(ctx context.Context, draft nw.Draft) (*nw.Receipt, error) {
	receipt, err := a.publisher.Publish(ctx, a.session, draft)
	if err != nil {
		a.op.Fail(err)
		if pe, ok := nw.AsPublishError(err); ok && pe.Orphaned() {
			a.enqueue(pe, draft.Title)
		}
		return nil, err
	}
	return receipt, nil
}

// enqueue keeps an orphaned publication under the author its append was
// issued with, which may no longer be the bound identity.
func (a *NWApp) enqueue(pe *nw.PublishError, title string) {
	e, err := a.queue.Add(pe.ContentRef, title, pe.Author, pe.LedgerWrite == nw.LedgerWriteUnknown)
	if err != nil {
		a.logger.Error("queueing orphaned publication failed", "ref", pe.ContentRef, "error", err)
		return
	}
	n, err := a.queue.Len()
	if err != nil {
		a.logger.Warn("reading pending queue failed", "error", err)
	}
	a.logger.Info("orphaned publication queued", "id", e.ID, "ref", e.ContentRef, "author", e.Author, "uncertain", e.Uncertain, "pending", n)
}

// RecordOnly records already stored content. A successful record also clears
// any pending entry for the same reference and author.
func (a *NWApp) RecordOnly(ctx context.Context, contentRef, title string) (*nw.Receipt, error) {
	receipt, err := a.publisher.RecordOnly(ctx, a.session, contentRef, title)
	if err != nil {
		a.op.Fail(err)
		return nil, err
	}
	a.clearPending(receipt.ContentRef, receipt.Author)
	return receipt, nil
}

func (a *NWApp) clearPending(ref, author string) {
	entries, err := a.queue.List()
	if err != nil {
		a.logger.Warn("reading pending queue failed", "error", err)
		return
	}
	for _, e := range entries {
		if e.ContentRef == ref && e.Author == author {
			if err := a.queue.Remove(e.ID); err != nil {
				a.logger.Warn("removing pending entry failed", "id", e.ID, "error", err)
			}
		}
	}
}

// List returns every published item, newest first.
func (a *NWApp) List(ctx context.Context) (*nw.Listing, error) {
	listing, err := a.aggregator.ListAll(ctx)
	if err != nil {
		a.op.Fail(err)
		return nil, err
	}
	metrics.ObserveListing(listing)
	return listing, nil
}

// Show fetches one article by content reference.
func (a *NWApp) Show(ctx context.Context, ref string) (*nw.Article, error) {
	article, err := a.aggregator.Get(ctx, ref)
	if err != nil {
		a.op.Fail(err)
		return nil, err
	}
	return article, nil
}

// PendingList returns queued publications, oldest first.
func (a *NWApp) PendingList() ([]pending.Entry, error) {
	return a.queue.List()
}

// ErrAuthorChanged is returned for pending entries stored under a different
// identity than the one currently bound.
var ErrAuthorChanged = errors.New("bound identity differs from entry author")

// PendingRetry records every queued publication under the current identity.
// Entries stored by a different author are left queued. An entry whose
// earlier append may have landed is first looked up on the ledger and only
// recorded again when no matching record exists.
func (a *NWApp) PendingRetry(ctx context.Context) ([]pending.Outcome, error) {
	outcomes, err := a.queue.Retry(ctx, func(ctx context.Context, e pending.Entry) error {
		if current := a.session.Address(ctx); current != "" && current != e.Author {
			return fmt.Errorf("%w: entry by %q, bound %s", ErrAuthorChanged, e.Author, current)
		}
		if e.Uncertain {
			rec, err := a.aggregator.FindRecord(ctx, e.ContentRef, e.Author)
			if err != nil {
				return fmt.Errorf("checking ledger for %s: %w", e.ContentRef, err)
			}
			if rec != nil {
				a.logger.Info("pending publication already recorded", "id", e.ID, "ref", e.ContentRef, "index", rec.SequenceIndex)
				return fmt.Errorf("%w at index %d", pending.ErrAlreadyRecorded, rec.SequenceIndex)
			}
		}
		receipt, err := a.publisher.RecordOnly(ctx, a.session, e.ContentRef, e.Title)
		if err != nil {
			return err
		}
		a.logger.Info("pending publication recorded", "id", e.ID, "ref", e.ContentRef, "index", receipt.SequenceIndex)
		return nil
	})
	if err != nil {
		a.op.Fail(err)
		return outcomes, err
	}
	for _, o := range outcomes {
		if o.Err != nil {
			a.op.Fail(o.Err)
			break
		}
	}
	if n, err := a.queue.Len(); err == nil {
		a.logger.Info("pending retry finished", "attempted", len(outcomes), "remaining", n)
	}
	return outcomes, nil
}

// ErrBackupUnsupported is returned by BackupLedger for ledgers without a
// local database file.
var ErrBackupUnsupported = errors.New("ledger backend does not support backups")

// BackupLedger writes a consistent snapshot of the SQLite ledger to dest.
func (a *NWApp) BackupLedger(dest string) error {
	l, ok := a.ledger.(*ledger.SQLiteLedger)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrBackupUnsupported, a.cfg.Ledger.Type)
		a.op.Fail(err)
		return err
	}
	if err := l.BackupTo(dest); err != nil {
		a.op.Fail(err)
		return err
	}
	a.logger.Info("ledger backed up", "from", l.Path(), "to", dest)
	return nil
}

// Watch calls fn for every ledger append until ctx is done.
func (a *NWApp) Watch(ctx context.Context, fn func(nw.LedgerEvent)) error {
	events, err := a.ledger.Subscribe(ctx)
	if err != nil {
		a.op.Fail(err)
		return fmt.Errorf("subscribing to ledger: %w", err)
	}
	for ev := range events {
		fn(ev)
	}
	return nil
}

// Server returns the HTTP API backed by this app.
func (a *NWApp) Server() *api.Server {
	return api.NewServer(a, a.logger, api.Options{
		Blobs:        a.blobs,
		Gatherer:     a.registry,
		PublishRate:  a.cfg.Server.PublishRateLimit,
		PublishBurst: a.cfg.Server.PublishBurst,
	})
}

// Serve runs the HTTP API on the configured address until ctx is done.
func (a *NWApp) Serve(ctx context.Context) error {
	if err := a.Server().Run(ctx, a.cfg.Server.Listen); err != nil {
		a.op.Fail(err)
		return err
	}
	return nil
}

// Close releases the session, ledger and log file.
func (a *NWApp) Close() error {
	var firstErr error

	a.session.Close()
	if err := a.ledger.Close(); err != nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", time.Since(a.op.StartedAt))

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// Compile-time check that NWApp implements api.NewsService interface
var _ api.NewsService = (*NWApp)(nil)
