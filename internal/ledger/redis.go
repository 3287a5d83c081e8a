package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"newswave/internal/nw"
)

// appendScript stamps a record with the server's time, pushes it and
// announces its index in one atomic step. KEYS[1] is the record list,
// KEYS[2] the event channel and KEYS[3] the recorded-at list, which stays
// aligned with KEYS[1] by position.
var appendScript = redis.NewScript(`
local now = redis.call('TIME')
local idx = redis.call('RPUSH', KEYS[1], ARGV[1]) - 1
redis.call('RPUSH', KEYS[3], now[1])
redis.call('PUBLISH', KEYS[2], tostring(idx))
return idx
`)

// RedisLedger keeps the log in a Redis list. The list position is the
// sequence index; entries are never rewritten. Record times come from the
// Redis server, so every writer sharing the instance uses one clock.
type RedisLedger struct {
	client *redis.Client
	prefix string
	logger nw.Logger
}

type redisRecord struct {
	ContentRef string `json:"contentRef"`
	Title      string `json:"title"`
	Author     string `json:"author"`
}

// NewRedisLedger creates a ledger over client. Prefix may be empty.
func NewRedisLedger(client *redis.Client, prefix string, logger nw.Logger) *RedisLedger {
	if prefix == "" {
		prefix = "nw:ledger:"
	}
	return &RedisLedger{client: client, prefix: prefix, logger: logger}
}

func (r *RedisLedger) recordsKey() string { return r.prefix + "records" }
func (r *RedisLedger) eventsKey() string  { return r.prefix + "events" }
func (r *RedisLedger) timesKey() string   { return r.prefix + "recorded_at" }

func (r *RedisLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	if err := validateEntry(signer, contentRef, title); err != nil {
		return 0, err
	}
	b, err := json.Marshal(redisRecord{
		ContentRef: contentRef,
		Title:      title,
		Author:     signer.Address,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encoding record: %v", nw.ErrSubmissionRejected, err)
	}

	idx, err := appendScript.Run(ctx, r.client, []string{r.recordsKey(), r.eventsKey(), r.timesKey()}, string(b)).Int64()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", nw.ErrSubmissionTimeout, err)
		}
		return 0, fmt.Errorf("appending to redis ledger: %w", err)
	}
	return uint64(idx), nil
}

func (r *RedisLedger) Count(ctx context.Context) (uint64, error) {
	n, err := r.client.LLen(ctx, r.recordsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("counting redis ledger: %w", err)
	}
	return uint64(n), nil
}

func (r *RedisLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	pipe := r.client.Pipeline()
	recCmd := pipe.LIndex(ctx, r.recordsKey(), int64(i))
	timeCmd := pipe.LIndex(ctx, r.timesKey(), int64(i))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading redis ledger index %d: %w", i, err)
	}

	b, err := recCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			n, cerr := r.Count(ctx)
			if cerr != nil {
				return nil, cerr
			}
			return nil, outOfRange(i, n)
		}
		return nil, fmt.Errorf("reading redis ledger index %d: %w", i, err)
	}
	recordedAt, err := timeCmd.Int64()
	if err != nil {
		return nil, fmt.Errorf("reading redis ledger time %d: %w", i, err)
	}
	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decoding redis ledger index %d: %w", i, err)
	}
	return &nw.PublicationRecord{
		ContentRef:    rec.ContentRef,
		Title:         rec.Title,
		RecordedAt:    recordedAt,
		Author:        rec.Author,
		SequenceIndex: i,
	}, nil
}

// Subscribe listens on the ledger's event channel. Events are delivered for
// appends made by any client of the same Redis instance.
func (r *RedisLedger) Subscribe(ctx context.Context) (<-chan nw.LedgerEvent, error) {
	ps := r.client.Subscribe(ctx, r.eventsKey())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to redis ledger: %w", err)
	}

	out := make(chan nw.LedgerEvent, eventBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				idx, err := strconv.ParseUint(msg.Payload, 10, 64)
				if err != nil {
					r.logger.Warn("malformed ledger event", "payload", msg.Payload)
					continue
				}
				rec, err := r.GetByIndex(ctx, idx)
				if err != nil {
					r.logger.Warn("reading announced record", "index", idx, "error", err)
					continue
				}
				select {
				case out <- nw.LedgerEvent{Record: *rec}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying client.
func (r *RedisLedger) Close() error {
	return r.client.Close()
}

// Compile-time check that RedisLedger implements nw.Ledger interface
var _ nw.Ledger = (*RedisLedger)(nil)
