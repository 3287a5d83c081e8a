package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"newswave/internal/nw"
	"newswave/internal/testutil"
)

var alice = nw.Identity{Address: "0xA11CE"}

type ledgerFactory func(t *testing.T, clock nw.Clock) nw.Ledger

func ledgerBackends() map[string]ledgerFactory {
	return map[string]ledgerFactory{
		"memory": func(t *testing.T, clock nw.Clock) nw.Ledger {
			return NewMemoryLedger(clock)
		},
		"sqlite": func(t *testing.T, clock nw.Clock) nw.Ledger {
			l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), clock, nw.NewNopLogger())
			if err != nil {
				t.Fatalf("NewSQLiteLedger() error = %v", err)
			}
			l.SetPollInterval(10 * time.Millisecond)
			return l
		},
		"redis": func(t *testing.T, clock nw.Clock) nw.Ledger {
			m, err := mr.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			t.Cleanup(m.Close)
			client := redis.NewClient(&redis.Options{Addr: m.Addr()})
			return &serverClockedLedger{
				RedisLedger: NewRedisLedger(client, "test:ledger:", nw.NewNopLogger()),
				server:      m,
				clock:       clock,
			}
		},
	}
}

// serverClockedLedger moves the Redis server's clock to clock before each
// append, so the shared backend tests can predict recorded times.
type serverClockedLedger struct {
	*RedisLedger
	server *mr.Miniredis
	clock  nw.Clock
}

func (l *serverClockedLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	l.server.SetTime(l.clock.Now())
	return l.RedisLedger.Append(ctx, signer, contentRef, title)
}

func TestLedger_AppendAndRead(t *testing.T) {
	for name, newLedger := range ledgerBackends() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.FixedClock()
			l := newLedger(t, clock)
			defer l.Close()
			ctx := context.Background()

			n, err := l.Count(ctx)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}

			for i, ref := range []string{"ref-a", "ref-b", "ref-c"} {
				idx, err := l.Append(ctx, alice, ref, "title "+ref)
				if err != nil {
					t.Fatalf("Append(%s) error = %v", ref, err)
				}
				if idx != uint64(i) {
					t.Errorf("Append(%s) = %d, want %d", ref, idx, i)
				}
				clock.Advance(time.Minute)
			}

			n, err = l.Count(ctx)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 3 {
				t.Errorf("Count() = %d, want 3", n)
			}

			rec, err := l.GetByIndex(ctx, 1)
			if err != nil {
				t.Fatalf("GetByIndex(1) error = %v", err)
			}
			want := nw.PublicationRecord{
				ContentRef:    "ref-b",
				Title:         "title ref-b",
				RecordedAt:    testutil.FixedClock().Now().Add(time.Minute).Unix(),
				Author:        alice.Address,
				SequenceIndex: 1,
			}
			if *rec != want {
				t.Errorf("GetByIndex(1) = %+v, want %+v", *rec, want)
			}
		})
	}
}

func TestLedger_GetByIndex_OutOfRange(t *testing.T) {
	for name, newLedger := range ledgerBackends() {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, testutil.FixedClock())
			defer l.Close()
			ctx := context.Background()

			if _, err := l.Append(ctx, alice, "ref", "title"); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			_, err := l.GetByIndex(ctx, 1)
			if !errors.Is(err, nw.ErrIndexOutOfRange) {
				t.Errorf("GetByIndex(1) error = %v, want ErrIndexOutOfRange", err)
			}
		})
	}
}

func TestLedger_AppendValidation(t *testing.T) {
	tests := []struct {
		name    string
		signer  nw.Identity
		ref     string
		title   string
		wantErr error
	}{
		{"unbound signer", nw.Identity{}, "ref", "title", nw.ErrIdentityUnavailable},
		{"empty ref", alice, "", "title", nw.ErrSubmissionRejected},
		{"empty title", alice, "ref", "  ", nw.ErrSubmissionRejected},
		{"title too long", alice, "ref", strings.Repeat("x", MaxTitleLength+1), nw.ErrSubmissionRejected},
		{"ref too long", alice, strings.Repeat("r", MaxContentRefLength+1), "title", nw.ErrSubmissionRejected},
		{"invalid utf-8", alice, "ref", "bad \xff title", nw.ErrSubmissionRejected},
	}

	for name, newLedger := range ledgerBackends() {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, testutil.FixedClock())
			defer l.Close()
			ctx := context.Background()

			for _, tt := range tests {
				_, err := l.Append(ctx, tt.signer, tt.ref, tt.title)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("%s: Append() error = %v, want %v", tt.name, err, tt.wantErr)
				}
			}
			n, err := l.Count(ctx)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 0 {
				t.Errorf("Count() after rejected appends = %d, want 0", n)
			}
		})
	}
}

func TestLedger_ConcurrentAppendsGetDistinctIndices(t *testing.T) {
	const writers = 20

	for name, newLedger := range ledgerBackends() {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, testutil.FixedClock())
			defer l.Close()
			ctx := context.Background()

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[uint64]bool)
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					idx, err := l.Append(ctx, alice, "ref", "title")
					if err != nil {
						t.Errorf("Append() error = %v", err)
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if seen[idx] {
						t.Errorf("index %d assigned twice", idx)
					}
					seen[idx] = true
				}()
			}
			wg.Wait()

			n, err := l.Count(ctx)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != writers {
				t.Errorf("Count() = %d, want %d", n, writers)
			}
			for i := uint64(0); i < writers; i++ {
				if !seen[i] {
					t.Errorf("index %d never assigned", i)
				}
			}
		})
	}
}

func TestLedger_Subscribe(t *testing.T) {
	for name, newLedger := range ledgerBackends() {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, testutil.FixedClock())
			defer l.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Records appended before subscribing are not announced.
			if _, err := l.Append(ctx, alice, "old", "old"); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			events, err := l.Subscribe(ctx)
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			if _, err := l.Append(ctx, alice, "new", "fresh news"); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			select {
			case ev := <-events:
				if ev.Record.SequenceIndex != 1 || ev.Record.ContentRef != "new" {
					t.Errorf("event = %+v, want index 1 ref new", ev.Record)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no event received")
			}

			cancel()
			deadline := time.After(2 * time.Second)
			for {
				select {
				case _, ok := <-events:
					if !ok {
						return
					}
				case <-deadline:
					t.Fatal("event channel not closed after cancel")
				}
			}
		})
	}
}

func TestRedisLedger_RecordedAtFromServer(t *testing.T) {
	m, err := mr.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	// Two writers share one instance. Neither has a clock of its own; the
	// server's time is the only source.
	a := NewRedisLedger(redis.NewClient(&redis.Options{Addr: m.Addr()}), "shared:", nw.NewNopLogger())
	defer a.Close()
	b := NewRedisLedger(redis.NewClient(&redis.Options{Addr: m.Addr()}), "shared:", nw.NewNopLogger())
	defer b.Close()

	serverNow := testutil.FixedClock().Now()
	m.SetTime(serverNow)
	if _, err := a.Append(ctx, alice, "ref-a", "from a"); err != nil {
		t.Fatalf("a.Append() error = %v", err)
	}
	m.SetTime(serverNow.Add(time.Second))
	if _, err := b.Append(ctx, alice, "ref-b", "from b"); err != nil {
		t.Fatalf("b.Append() error = %v", err)
	}

	tests := []struct {
		index uint64
		want  int64
	}{
		{0, serverNow.Unix()},
		{1, serverNow.Add(time.Second).Unix()},
	}
	for _, tt := range tests {
		// Either writer reads the same log.
		for name, l := range map[string]*RedisLedger{"a": a, "b": b} {
			rec, err := l.GetByIndex(ctx, tt.index)
			if err != nil {
				t.Fatalf("%s.GetByIndex(%d) error = %v", name, tt.index, err)
			}
			if rec.RecordedAt != tt.want {
				t.Errorf("%s.GetByIndex(%d).RecordedAt = %d, want %d", name, tt.index, rec.RecordedAt, tt.want)
			}
		}
	}
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := NewSQLiteLedger(path, testutil.FixedClock(), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	if _, err := l.Append(ctx, alice, "ref", "title"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteLedger(path, testutil.FixedClock(), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	rec, err := reopened.GetByIndex(ctx, 0)
	if err != nil {
		t.Fatalf("GetByIndex(0) error = %v", err)
	}
	if rec.ContentRef != "ref" {
		t.Errorf("ContentRef = %q, want %q", rec.ContentRef, "ref")
	}
	idx, err := reopened.Append(ctx, alice, "ref2", "title2")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if idx != 1 {
		t.Errorf("Append() after reopen = %d, want 1", idx)
	}
}

func TestSQLiteLedger_BackupTo(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := NewSQLiteLedger(filepath.Join(dir, "ledger.db"), testutil.FixedClock(), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer l.Close()
	if got, want := l.Path(), filepath.Join(dir, "ledger.db"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	for _, ref := range []string{"ref-a", "ref-b"} {
		if _, err := l.Append(ctx, alice, ref, "title"); err != nil {
			t.Fatalf("Append(%s) error = %v", ref, err)
		}
	}

	snapshot := filepath.Join(dir, "snapshot.db")
	if err := l.BackupTo(snapshot); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteLedger(snapshot, testutil.FixedClock(), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("opening snapshot error = %v", err)
	}
	defer copied.Close()
	n, err := copied.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("snapshot Count() = %d, want 2", n)
	}
}

func TestMemoryLedger_CancelledContext(t *testing.T) {
	l := NewMemoryLedger(testutil.FixedClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Append(ctx, alice, "ref", "title"); err == nil {
		t.Error("Append() with cancelled context succeeded")
	}
	n, _ := l.Count(context.Background())
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}
