package nw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PublisherOptions bounds the wait on each external call.
type PublisherOptions struct {
	VerifyTimeout time.Duration
	StoreTimeout  time.Duration
	RecordTimeout time.Duration
	Observers     []ProgressObserver
}

// DefaultPublisherOptions returns the timeouts used when none are configured.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{
		VerifyTimeout: 30 * time.Second,
		StoreTimeout:  30 * time.Second,
		RecordTimeout: 2 * time.Minute,
	}
}

// Publisher drives the three-stage commit of one submission:
// verify, then store, then record. Stages run strictly in sequence on the
// caller's goroutine. Concurrent Publish calls share no mutable state.
type Publisher struct {
	verifier ContentVerifier
	store    ContentStore
	ledger   Ledger
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     PublisherOptions
}

// Receipt describes a completed publication.
type Receipt struct {
	SubmissionID  string
	ContentRef    string
	SequenceIndex uint64
	Author        string
	// Score is nil when the stage that scores content did not run.
	Score *float64
}

// NewPublisher creates a Publisher. Zero timeouts in opts fall back to
// DefaultPublisherOptions.
func NewPublisher(verifier ContentVerifier, store ContentStore, ledger Ledger, logger Logger, clock Clock, idgen IDGenerator, opts PublisherOptions) *Publisher {
	def := DefaultPublisherOptions()
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = def.VerifyTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = def.RecordTimeout
	}
	return &Publisher{
		verifier: verifier,
		store:    store,
		ledger:   ledger,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// Publish verifies, stores and records draft under the session's identity.
// On failure the returned error is a *PublishError naming the failed stage.
// After a Recording failure the error carries the stored content reference
// so the caller can retry with RecordOnly instead of starting over.
func (p *Publisher) Publish(ctx context.Context, session *Session, draft Draft) (*Receipt, error) {
	subID := p.idgen.New()
	p.emit(Progress{SubmissionID: subID, Stage: StageIdle})

	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Content) == "" {
		return nil, p.fail(subID, StageIdle, "", LedgerWriteNone,
			fmt.Errorf("%w: title and content are required", ErrInvalidSubmission))
	}

	// The binding is re-read for every submission; it may have changed
	// since the session was created.
	id, err := session.Bind(ctx)
	if err != nil {
		return nil, p.fail(subID, StageIdle, "", LedgerWriteNone,
			fmt.Errorf("%w: %w", ErrInvalidSubmission, err))
	}

	blob := &ContentBlob{
		Title:     draft.Title,
		Content:   draft.Content,
		Author:    id.Address,
		Timestamp: p.clock.Now().UnixMilli(),
	}

	// Verifying
	p.emit(Progress{SubmissionID: subID, Stage: StageVerifying})
	score, err := p.verify(ctx, blob)
	if err != nil {
		return nil, p.fail(subID, StageVerifying, "", LedgerWriteNone, err)
	}
	blob.VerificationScore = &score
	p.logger.Debug("draft verified", "submission", subID, "score", score)

	// Storing
	p.emit(Progress{SubmissionID: subID, Stage: StageStoring})
	ref, err := p.put(ctx, blob)
	if err != nil {
		return nil, p.fail(subID, StageStoring, "", LedgerWriteNone, err)
	}
	p.logger.Debug("content stored", "submission", subID, "ref", ref)

	// Recording
	index, err := p.record(ctx, subID, id, ref, draft.Title)
	if err != nil {
		return nil, err
	}

	p.emit(Progress{SubmissionID: subID, Stage: StageDone, ContentRef: ref})
	p.logger.Info("news published", "submission", subID, "ref", ref, "index", index, "author", id.Address, "score", score)
	return &Receipt{
		SubmissionID:  subID,
		ContentRef:    ref,
		SequenceIndex: index,
		Author:        id.Address,
		Score:         &score,
	}, nil
}

// RecordOnly retries the Recording stage for content that is already stored.
// It performs no verification and no store write.
func (p *Publisher) RecordOnly(ctx context.Context, session *Session, contentRef, title string) (*Receipt, error) {
	subID := p.idgen.New()
	p.emit(Progress{SubmissionID: subID, Stage: StageIdle, ContentRef: contentRef})

	if strings.TrimSpace(contentRef) == "" || strings.TrimSpace(title) == "" {
		return nil, p.fail(subID, StageIdle, contentRef, LedgerWriteNone,
			fmt.Errorf("%w: content reference and title are required", ErrInvalidSubmission))
	}
	id, err := session.Bind(ctx)
	if err != nil {
		return nil, p.fail(subID, StageIdle, contentRef, LedgerWriteNone,
			fmt.Errorf("%w: %w", ErrInvalidSubmission, err))
	}

	index, err := p.record(ctx, subID, id, contentRef, title)
	if err != nil {
		return nil, err
	}

	p.emit(Progress{SubmissionID: subID, Stage: StageDone, ContentRef: contentRef})
	p.logger.Info("news recorded", "submission", subID, "ref", contentRef, "index", index, "author", id.Address)
	return &Receipt{
		SubmissionID:  subID,
		ContentRef:    contentRef,
		SequenceIndex: index,
		Author:        id.Address,
	}, nil
}

func (p *Publisher) verify(ctx context.Context, blob *ContentBlob) (float64, error) {
	vctx, cancel := context.WithTimeout(ctx, p.opts.VerifyTimeout)
	defer cancel()

	score, err := p.verifier.Score(vctx, blob)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationTimeout), errors.Is(err, ErrVerificationUnavailable):
			return 0, err
		case errors.Is(vctx.Err(), context.DeadlineExceeded):
			return 0, fmt.Errorf("%w: %w", ErrVerificationTimeout, err)
		default:
			return 0, fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
		}
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: score %v out of range", ErrVerificationUnavailable, score)
	}
	return score, nil
}

func (p *Publisher) put(ctx context.Context, blob *ContentBlob) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()

	ref, err := p.store.Put(sctx, blob)
	if err != nil {
		if errors.Is(err, ErrContentStoreFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrContentStoreFailure, err)
	}
	return ref, nil
}

// record runs the only irreversible stage. Once Append is issued, a
// cancelled or expired context only stops the wait for confirmation.
func (p *Publisher) record(ctx context.Context, subID string, id Identity, ref, title string) (uint64, error) {
	p.emit(Progress{SubmissionID: subID, Stage: StageRecording, ContentRef: ref})

	rctx, cancel := context.WithTimeout(ctx, p.opts.RecordTimeout)
	defer cancel()

	index, err := p.ledger.Append(rctx, id, ref, title)
	if err != nil {
		write, cause := classifyAppendError(rctx, err)
		pe := p.fail(subID, StageRecording, ref, write, cause)
		pe.Author = id.Address
		return 0, pe
	}
	return index, nil
}

// classifyAppendError decides what the caller may assume about the ledger
// after a failed append.
func classifyAppendError(ctx context.Context, err error) (LedgerWrite, error) {
	switch {
	case errors.Is(err, ErrSubmissionRejected), errors.Is(err, ErrIdentityUnavailable):
		return LedgerWriteNone, err
	case errors.Is(err, ErrSubmissionTimeout):
		return LedgerWriteUnknown, err
	case ctx.Err() != nil:
		return LedgerWriteUnknown, fmt.Errorf("%w: %w", ErrSubmissionTimeout, err)
	default:
		return LedgerWriteUnknown, err
	}
}

func (p *Publisher) fail(subID string, stage Stage, ref string, write LedgerWrite, cause error) *PublishError {
	pe := &PublishError{Stage: stage, Cause: cause, ContentRef: ref, LedgerWrite: write}
	p.emit(Progress{SubmissionID: subID, Stage: stage, ContentRef: ref, Err: cause})
	if pe.Orphaned() {
		p.logger.Error("content stored but not recorded", "submission", subID, "ref", ref, "ledger", write.String(), "error", cause)
	} else {
		p.logger.Warn("publish failed", "submission", subID, "stage", stage.String(), "error", cause)
	}
	return pe
}

// emit notifies observers. A misbehaving observer never affects the commit.
func (p *Publisher) emit(pr Progress) {
	for _, o := range p.opts.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("progress observer panicked", "stage", pr.Stage.String(), "panic", r)
				}
			}()
			o.OnProgress(pr)
		}()
	}
}
