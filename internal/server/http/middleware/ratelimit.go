// Package middleware provides HTTP middleware components for the chatcast server.
package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/brianly1003/chatcast/internal/security"
)

// RateLimiter configuration constants.
const (
	DefaultRate    = 10.0            // Sustained requests per second
	DefaultBurst   = 20              // Requests allowed in a burst
	DefaultIdleTTL = 5 * time.Minute // Buckets unused this long are dropped
	DefaultCleanup = time.Minute     // Cleanup interval for stale buckets
)

// RateLimiter is a token bucket limiter with one bucket per key.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu          sync.Mutex
	buckets     map[string]*bucket
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// bucket tracks the limiter for a single key.
type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiterOption is a functional option for configuring RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRate sets the sustained requests per second.
func WithRate(perSecond float64) RateLimiterOption {
	return func(r *RateLimiter) {
		if perSecond > 0 {
			r.limit = rate.Limit(perSecond)
		}
	}
}

// WithBurst sets the bucket size.
func WithBurst(n int) RateLimiterOption {
	return func(r *RateLimiter) {
		if n > 0 {
			r.burst = n
		}
	}
}

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// NewRateLimiter creates a new RateLimiter with the given options.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		limit:       rate.Limit(DefaultRate),
		burst:       DefaultBurst,
		idleTTL:     DefaultIdleTTL,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
		cleanupDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	// Start cleanup goroutine
	go r.cleanupLoop()

	return r
}

func (r *RateLimiter) bucketFor(key string, now time.Time) *bucket {
	b, exists := r.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastAccess = now
	return b
}

// Allow reports whether a request for key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	return r.bucketFor(key, now).limiter.AllowN(now, 1)
}

// Remaining returns the whole tokens left for key.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.buckets[key]
	if !exists {
		return r.burst
	}
	tokens := b.limiter.TokensAt(r.now())
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

// RetryAfter returns how long key must wait for its next token.
func (r *RateLimiter) RetryAfter(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	res := r.bucketFor(key, now).limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return delay
}

// Limit returns the configured burst, reported as X-RateLimit-Limit.
func (r *RateLimiter) Limit() int {
	return r.burst
}

// Reset clears the rate limit for a key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}

// ResetAll clears all rate limits.
func (r *RateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[string]*bucket)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (r *RateLimiter) Close() {
	r.closeOnce.Do(func() { close(r.cleanupDone) })
}

// cleanupLoop periodically removes stale buckets.
func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(DefaultCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-r.cleanupDone:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// cleanup removes buckets that haven't been accessed recently.
func (r *RateLimiter) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for key, b := range r.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the authenticated principal stored in ctx.
func PrincipalFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// KeyExtractor is a function that extracts a rate limit key from a request.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys requests by client IP. Forwarding headers are only
// honoured for trusted proxies.
func IPKeyExtractor(resolver *security.ClientIPResolver) KeyExtractor {
	return func(r *http.Request) string {
		return "ip:" + resolver.ClientIP(r)
	}
}

// PrincipalKeyExtractor keys authenticated requests by principal and falls
// back to fallback for anonymous ones.
func PrincipalKeyExtractor(fallback KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		if p, ok := PrincipalFrom(r.Context()); ok {
			return "principal:" + p
		}
		return fallback(r)
	}
}

// RateLimitMiddleware returns an HTTP middleware that applies rate limiting.
func RateLimitMiddleware(limiter *RateLimiter, keyExtractor KeyExtractor) func(http.Handler) http.Handler {
	if keyExtractor == nil {
		keyExtractor = func(r *http.Request) string { return r.RemoteAddr }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)

			if !limiter.Allow(key) {
				wait := limiter.RetryAfter(key)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`+"\n")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))

			next.ServeHTTP(w, r)
		})
	}
}
