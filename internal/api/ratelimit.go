package api

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"newswave/internal/metrics"
)

// limiterIdleTTL is the shortest time a client's limiter is kept after its
// last request.
const limiterIdleTTL = 10 * time.Minute

// clientLimiter is an in-memory token bucket per client address. Entries
// idle long enough for their bucket to refill are dropped on a later
// request, so the map tracks only recently active clients.
type clientLimiter struct {
	rps   float64
	burst int
	ttl   time.Duration
	now   func() time.Time

	store     sync.Map // map[string]*clientEntry
	lastSweep atomic.Int64
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	ttl := limiterIdleTTL
	// A limiter dropped before it refills would hand its client a fresh burst.
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > ttl {
		ttl = refill
	}
	c := &clientLimiter{rps: rps, burst: burst, ttl: ttl, now: time.Now}
	c.lastSweep.Store(c.now().UnixNano())
	return c
}

func (c *clientLimiter) get(key string) *rate.Limiter {
	now := c.now()
	c.sweep(now)

	v, ok := c.store.Load(key)
	if !ok {
		v, _ = c.store.LoadOrStore(key, &clientEntry{lim: rate.NewLimiter(rate.Limit(c.rps), c.burst)})
	}
	e := v.(*clientEntry)
	e.lastSeen.Store(now.UnixNano())
	return e.lim
}

// sweep removes idle entries at most once per ttl.
func (c *clientLimiter) sweep(now time.Time) {
	last := c.lastSweep.Load()
	if now.UnixNano()-last < int64(c.ttl) || !c.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-c.ttl).UnixNano()
	c.store.Range(func(k, v any) bool {
		if v.(*clientEntry).lastSeen.Load() < cutoff {
			c.store.Delete(k)
		}
		return true
	})
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.get(clientKey(r)).Allow() {
			metrics.RateLimitRejected.WithLabelValues("publish").Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey uses the remote host, which RealIP has already rewritten from
// forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
