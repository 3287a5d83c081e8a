package ledger

import (
	"context"
	"sync"

	"newswave/internal/nw"
)

// MemoryLedger is an in-memory implementation of nw.Ledger, useful for
// testing. It is safe for concurrent use; appends are serialized by a mutex.
type MemoryLedger struct {
	clock   nw.Clock
	events  *broadcaster
	mu      sync.RWMutex
	records []nw.PublicationRecord
}

// NewMemoryLedger creates an empty in-memory ledger that stamps records
// with clock.
func NewMemoryLedger(clock nw.Clock) *MemoryLedger {
	return &MemoryLedger{
		clock:  clock,
		events: newBroadcaster(),
	}
}

func (m *MemoryLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateEntry(signer, contentRef, title); err != nil {
		return 0, err
	}

	m.mu.Lock()
	rec := nw.PublicationRecord{
		ContentRef:    contentRef,
		Title:         title,
		RecordedAt:    m.clock.Now().Unix(),
		Author:        signer.Address,
		SequenceIndex: uint64(len(m.records)),
	}
	m.records = append(m.records, rec)
	m.mu.Unlock()

	m.events.publish(nw.LedgerEvent{Record: rec})
	return rec.SequenceIndex, nil
}

func (m *MemoryLedger) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records)), nil
}

func (m *MemoryLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i >= uint64(len(m.records)) {
		return nil, outOfRange(i, uint64(len(m.records)))
	}
	rec := m.records[i]
	return &rec, nil
}

func (m *MemoryLedger) Subscribe(ctx context.Context) (<-chan nw.LedgerEvent, error) {
	return m.events.subscribe(ctx), nil
}

// Close is a no-op for the in-memory ledger.
func (m *MemoryLedger) Close() error {
	return nil
}

// Compile-time check that MemoryLedger implements nw.Ledger interface
var _ nw.Ledger = (*MemoryLedger)(nil)
