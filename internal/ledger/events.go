package ledger

import (
	"context"
	"sync"
	"time"

	"newswave/internal/nw"
)

// eventBuffer is the per-subscriber channel capacity. Events for a
// subscriber that falls this far behind are dropped.
const eventBuffer = 64

// broadcaster fans append events out to in-process subscribers.
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan nw.LedgerEvent
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan nw.LedgerEvent)}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan nw.LedgerEvent {
	ch := make(chan nw.LedgerEvent, eventBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *broadcaster) publish(ev nw.LedgerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// countReader is the read side of a ledger used by pollEvents.
type countReader interface {
	Count(ctx context.Context) (uint64, error)
	GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error)
}

// pollEvents emits an event for every record appended after the call by
// polling the ledger count. It sees appends made by other processes.
func pollEvents(ctx context.Context, l countReader, interval time.Duration, logger nw.Logger) (<-chan nw.LedgerEvent, error) {
	start, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan nw.LedgerEvent, eventBuffer)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		next := start
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n, err := l.Count(ctx)
			if err != nil {
				logger.Warn("polling ledger count", "error", err)
				continue
			}
			for ; next < n; next++ {
				rec, err := l.GetByIndex(ctx, next)
				if err != nil {
					logger.Warn("polling ledger record", "index", next, "error", err)
					break
				}
				select {
				case ch <- nw.LedgerEvent{Record: *rec}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
