package api

import (
	"sort"
	"testing"
	"time"
)

func trackedClients(c *clientLimiter) []string {
	var keys []string
	c.store.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func TestClientLimiter_evictsIdleClients(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	now := start
	c := newClientLimiter(1, 2)
	c.now = func() time.Time { return now }
	c.lastSweep.Store(start.UnixNano())

	c.get("10.0.0.1")
	c.get("10.0.0.2")

	now = start.Add(5 * time.Minute)
	c.get("10.0.0.2")
	if got := trackedClients(c); len(got) != 2 {
		t.Fatalf("tracked = %v, want both clients before the idle window", got)
	}

	now = start.Add(limiterIdleTTL + time.Minute)
	c.get("10.0.0.3")
	got := trackedClients(c)
	want := []string{"10.0.0.2", "10.0.0.3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("tracked = %v, want %v", got, want)
	}
}

func TestClientLimiter_idleWindowCoversRefill(t *testing.T) {
	tests := []struct {
		rps   float64
		burst int
		want  time.Duration
	}{
		{rps: 1, burst: 5, want: limiterIdleTTL},
		{rps: 0.001, burst: 5, want: 5000 * time.Second},
	}
	for _, tt := range tests {
		if got := newClientLimiter(tt.rps, tt.burst).ttl; got != tt.want {
			t.Errorf("newClientLimiter(%v, %d).ttl = %v, want %v", tt.rps, tt.burst, got, tt.want)
		}
	}
}
