package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// RateLimiter Tests
// =============================================================================

func newLocalOnlyLimiter(t *testing.T, requests int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(nil, requests, time.Hour, testLogger())
	t.Cleanup(rl.Stop)
	return rl
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(nil, 0, 0, testLogger())
	defer rl.Stop()

	if rl.limit.Rate != 120 || rl.limit.Period != time.Minute {
		t.Errorf("unexpected defaults: %+v", rl.limit)
	}
	if rl.redis != nil {
		t.Error("expected no redis limiter without a client")
	}
}

func TestRateLimiter_Allow_UnderAndAtLimit(t *testing.T) {
	rl := newLocalOnlyLimiter(t, 3)

	for i := 0; i < 3; i++ {
		res, err := rl.Allow(context.Background(), "ratelimit:ip:192.168.1.1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Allowed != 1 {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	res, err := rl.Allow(context.Background(), "ratelimit:ip:192.168.1.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed != 0 {
		t.Error("4th request should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %v", res.RetryAfter)
	}
}

func TestRateLimiter_Allow_DifferentKeys(t *testing.T) {
	rl := newLocalOnlyLimiter(t, 1)

	a, _ := rl.Allow(context.Background(), "ratelimit:ip:10.0.0.1")
	b, _ := rl.Allow(context.Background(), "ratelimit:ip:10.0.0.2")

	if a.Allowed != 1 || b.Allowed != 1 {
		t.Error("different keys should have independent buckets")
	}
}

func TestRateLimiter_RedisDownFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	rl := NewRateLimiter(rdb, 1, time.Hour, testLogger())
	t.Cleanup(rl.Stop)

	called := 0
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	if called != 1 {
		t.Errorf("expected exactly one admitted request, got %d", called)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 from local fallback, got %d", second.Code)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRateLimiter_Limit_Headers(t *testing.T) {
	rl := newLocalOnlyLimiter(t, 2)

	called := false
	rec := httptest.NewRecorder()
	rl.Limit(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	if !called {
		t.Fatal("request should be allowed")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected limit header 2, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("expected remaining header 1, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiter_Limit_Exceeded(t *testing.T) {
	rl := newLocalOnlyLimiter(t, 1)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON body, got %q", ct)
	}
}

func TestRateLimiter_KeysBySession(t *testing.T) {
	rl := newLocalOnlyLimiter(t, 1)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// Two tenants behind the same address get separate buckets.
	for i := 0; i < 2; i++ {
		req := withSession(httptest.NewRequest(http.MethodGet, "/api/usage", nil), &domain.Session{UserID: uuid.New()})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			t.Errorf("tenant %d should not be limited", i)
		}
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{"X-Forwarded-For single", "203.0.113.1", "", "10.0.0.1:1234", "203.0.113.1"},
		{"X-Forwarded-For chain", "203.0.113.1, 70.41.3.18, 150.172.238.178", "", "10.0.0.1:1234", "203.0.113.1"},
		{"X-Real-IP", "", "203.0.113.2", "10.0.0.1:1234", "203.0.113.2"},
		{"RemoteAddr with port", "", "", "192.168.1.1:54321", "192.168.1.1"},
		{"RemoteAddr without port", "", "", "192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			if got := getClientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
