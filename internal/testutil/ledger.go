package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"newswave/internal/nw"
)

// FakeLedger is an in-memory nw.Ledger with injectable failures and call
// counters. The zero value is not usable; call NewFakeLedger.
type FakeLedger struct {
	clock nw.Clock

	mu      sync.Mutex
	records []nw.PublicationRecord
	// AppendErr, when set, is returned by Append without recording.
	AppendErr error
	// AppendThenErr records the entry and then returns this error, the
	// shape of a timeout after the write landed.
	AppendThenErr error
	// OnAppend, when set, runs at the start of every Append.
	OnAppend func()
	// CountErr is returned by Count.
	CountErr error
	// GetErr maps indices to errors returned by GetByIndex.
	GetErr map[uint64]error

	appendCalls atomic.Int64
}

func NewFakeLedger(clock nw.Clock) *FakeLedger {
	return &FakeLedger{clock: clock, GetErr: make(map[uint64]error)}
}

// AppendCalls returns how many times Append was called.
func (f *FakeLedger) AppendCalls() int { return int(f.appendCalls.Load()) }

// Records returns a copy of the appended records.
func (f *FakeLedger) Records() []nw.PublicationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nw.PublicationRecord(nil), f.records...)
}

func (f *FakeLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	f.appendCalls.Add(1)
	if f.OnAppend != nil {
		f.OnAppend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AppendErr != nil {
		return 0, f.AppendErr
	}
	if !signer.Bound() {
		return 0, fmt.Errorf("no signer: %w", nw.ErrIdentityUnavailable)
	}
	idx := uint64(len(f.records))
	f.records = append(f.records, nw.PublicationRecord{
		ContentRef:    contentRef,
		Title:         title,
		RecordedAt:    f.clock.Now().Unix(),
		Author:        signer.Address,
		SequenceIndex: idx,
	})
	if f.AppendThenErr != nil {
		return 0, f.AppendThenErr
	}
	return idx, nil
}

// AddRecord appends rec as-is, keeping its RecordedAt and Author.
func (f *FakeLedger) AddRecord(rec nw.PublicationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.SequenceIndex = uint64(len(f.records))
	f.records = append(f.records, rec)
}

func (f *FakeLedger) Count(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	return uint64(len(f.records)), nil
}

func (f *FakeLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.GetErr[i]; ok {
		return nil, err
	}
	if i >= uint64(len(f.records)) {
		return nil, fmt.Errorf("%w: %d", nw.ErrIndexOutOfRange, i)
	}
	rec := f.records[i]
	return &rec, nil
}

// Subscribe returns a channel that only closes when ctx is done.
func (f *FakeLedger) Subscribe(ctx context.Context) (<-chan nw.LedgerEvent, error) {
	ch := make(chan nw.LedgerEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *FakeLedger) Close() error { return nil }

// Compile-time check that FakeLedger implements nw.Ledger interface
var _ nw.Ledger = (*FakeLedger)(nil)
