package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MaxBody rejects request bodies above the limit before any work occurs.
// Reads past the limit fail inside the handler via http.MaxBytesReader; a
// declared Content-Length above the limit is rejected immediately.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				if r.ContentLength > limit {
					writeLimitError(w, http.StatusRequestEntityTooLarge, "request_too_large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenBucket is a per-identity token bucket. Tokens refill continuously at
// the configured per-second rate up to capacity.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimiter enforces a per-identity requests-per-minute budget.
type RateLimiter struct {
	perMinute int
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	now       func() time.Time
}

// NewRateLimiter creates a limiter. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*tokenBucket),
		now:       time.Now,
	}
}

// Allow consumes one token for the identity.
func (l *RateLimiter) Allow(identity string) bool {
	if l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[identity]
	if !ok {
		b = &tokenBucket{
			capacity:   float64(l.perMinute),
			tokens:     float64(l.perMinute),
			refillRate: float64(l.perMinute) / 60,
			lastRefill: l.now(),
		}
		l.buckets[identity] = b
	}
	return b.take(l.now())
}

// RateLimit rejects requests above the per-identity budget with 429. The
// identity is the bearer token when present, otherwise the remote address.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(identity(r)) {
				w.Header().Set("Retry-After", "60")
				writeLimitError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identity(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.RemoteAddr
}

func writeLimitError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": code})
}
