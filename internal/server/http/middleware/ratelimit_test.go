package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/brianly1003/chatcast/internal/security"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, opts ...RateLimiterOption) (*RateLimiter, *fakeClock) {
	t.Helper()
	limiter := NewRateLimiter(opts...)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	limiter.now = clock.Now
	t.Cleanup(limiter.Close)
	return limiter, clock
}

func TestNewRateLimiter(t *testing.T) {
	limiter := NewRateLimiter()
	defer limiter.Close()

	if limiter.limit != rate.Limit(DefaultRate) {
		t.Errorf("expected rate %v, got %v", DefaultRate, limiter.limit)
	}
	if limiter.burst != DefaultBurst {
		t.Errorf("expected burst %d, got %d", DefaultBurst, limiter.burst)
	}
}

func TestNewRateLimiter_InvalidOptions(t *testing.T) {
	limiter := NewRateLimiter(WithRate(0), WithBurst(-1), WithIdleTTL(0))
	defer limiter.Close()

	if limiter.limit != rate.Limit(DefaultRate) || limiter.burst != DefaultBurst || limiter.idleTTL != DefaultIdleTTL {
		t.Errorf("invalid options should keep defaults, got %v/%d/%v", limiter.limit, limiter.burst, limiter.idleTTL)
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	limiter, clock := newTestLimiter(t, WithRate(1), WithBurst(3))

	for i := 0; i < 3; i++ {
		if !limiter.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("a") {
		t.Error("4th request should be limited")
	}
	if got := limiter.Remaining("a"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}

	clock.Advance(time.Second)
	if !limiter.Allow("a") {
		t.Error("one token should refill after a second")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithRate(1), WithBurst(1))

	if !limiter.Allow("a") || !limiter.Allow("b") {
		t.Fatal("first request per key should be allowed")
	}
	if limiter.Allow("a") {
		t.Error("a should be limited")
	}
	if got := limiter.Remaining("unknown"); got != 1 {
		t.Errorf("Remaining for unknown key = %d, want burst", got)
	}
}

func TestRetryAfter(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithRate(0.5), WithBurst(1))

	limiter.Allow("a")
	wait := limiter.RetryAfter("a")
	if wait <= time.Second || wait > 2*time.Second {
		t.Errorf("RetryAfter = %v, want ~2s", wait)
	}
	// RetryAfter must not consume the token it measured
	if again := limiter.RetryAfter("a"); again != wait {
		t.Errorf("second RetryAfter = %v, want %v", again, wait)
	}
}

func TestReset(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithRate(1), WithBurst(1))

	limiter.Allow("a")
	limiter.Allow("b")
	limiter.Reset("a")
	if !limiter.Allow("a") {
		t.Error("a should be allowed after Reset")
	}

	limiter.ResetAll()
	if !limiter.Allow("b") {
		t.Error("b should be allowed after ResetAll")
	}
}

func TestCleanup(t *testing.T) {
	limiter, clock := newTestLimiter(t, WithIdleTTL(time.Minute))

	limiter.Allow("old")
	clock.Advance(2 * time.Minute)
	limiter.Allow("new")

	if removed := limiter.cleanup(); removed != 1 {
		t.Errorf("cleanup removed %d, want 1", removed)
	}
	limiter.mu.Lock()
	_, hasOld := limiter.buckets["old"]
	_, hasNew := limiter.buckets["new"]
	limiter.mu.Unlock()
	if hasOld || !hasNew {
		t.Errorf("after cleanup old=%v new=%v", hasOld, hasNew)
	}
}

func TestClose_Idempotent(t *testing.T) {
	limiter := NewRateLimiter()
	limiter.Close()
	limiter.Close()
}

func TestPrincipalKeyExtractor(t *testing.T) {
	resolver, err := security.NewClientIPResolver(nil)
	if err != nil {
		t.Fatal(err)
	}
	extract := PrincipalKeyExtractor(IPKeyExtractor(resolver))

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	if got := extract(r); got != "ip:203.0.113.9" {
		t.Errorf("anonymous key = %q", got)
	}

	r = r.WithContext(WithPrincipal(r.Context(), "7"))
	if got := extract(r); got != "principal:7" {
		t.Errorf("authenticated key = %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithRate(1), WithBurst(2))

	handler := RateLimitMiddleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 200 429]", codes)
	}
	if last.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", last.Header().Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_Headers(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithRate(1), WithBurst(5))

	handler := RateLimitMiddleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
}
