package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter is a per-client token bucket guarding the webhook endpoint.
// Buckets refill continuously at rate tokens per second up to burst.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64

	lastPrune time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// pruneInterval bounds how often idle buckets are swept.
const pruneInterval = 5 * time.Minute

// NewLimiter creates a limiter. rate <= 0 disables limiting (Allow always
// returns true).
func NewLimiter(rate float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      rate,
		burst:     float64(burst),
		lastPrune: time.Now(),
	}
}

// Allow reports whether the client identified by key may proceed, consuming
// one token if so.
func (l *Limiter) Allow(key string) bool {
	if l.rate <= 0 {
		return true
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > pruneInterval {
		l.prune(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	b.tokens += now.Sub(b.last).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets idle long enough to have fully refilled. Caller holds
// the lock.
func (l *Limiter) prune(now time.Time) {
	idle := time.Duration(l.burst/l.rate) * time.Second
	for key, b := range l.buckets {
		if now.Sub(b.last) > idle {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}

// clientIP extracts the originating client address, preferring the first
// X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
