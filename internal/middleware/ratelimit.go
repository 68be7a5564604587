package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/handler"
	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter throttles API requests per tenant (or per client IP for
// anonymous callers). Counters live in redis so that every replica shares
// them; when redis is absent or failing, an in-process token bucket takes
// over. Limiter errors never block a request.
type RateLimiter struct {
	redis    *redis_rate.Limiter // nil when no redis client is configured
	fallback *localLimiter
	limit    redis_rate.Limit
	logger   *slog.Logger
}

// NewRateLimiter creates a limiter admitting requests per window with a
// burst of the same size. rdb may be nil.
func NewRateLimiter(rdb *redis.Client, requests int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if requests <= 0 {
		requests = 120
	}
	if window <= 0 {
		window = time.Minute
	}

	rl := &RateLimiter{
		fallback: newLocalLimiter(),
		limit: redis_rate.Limit{
			Rate:   requests,
			Burst:  requests,
			Period: window,
		},
		logger: logger,
	}
	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb)
	}
	return rl
}

// Stop ends the fallback cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.fallback.stop()
}

// Allow checks one request for key.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (*redis_rate.Result, error) {
	if rl.redis != nil {
		res, err := rl.redis.Allow(ctx, key, rl.limit)
		if err == nil {
			return res, nil
		}
		rl.logger.Warn("redis rate limiter unavailable, using local limiter",
			"error", err,
			"key", key,
		)
	}
	return rl.fallback.allow(key, rl.limit)
}

// Limit returns middleware that rate limits requests.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r)

		res, err := rl.Allow(r.Context(), key)
		if err != nil {
			rl.logger.Warn("rate limiter error, failing open", "error", err, "key", key)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, res, rl.limit)

		if res.Allowed == 0 {
			rl.logger.Warn("rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)

			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			handler.ErrorResponse(w, r, rl.logger, domain.Errorf(domain.ERATELIMIT, "middleware.rate_limit",
				"Too many requests. Please try again in %d seconds.", retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitKey prefers the resolved tenant over the client address.
func rateLimitKey(r *http.Request) string {
	if session := auth.GetSession(r.Context()); session != nil {
		return "ratelimit:user:" + session.UserID.String()
	}
	return "ratelimit:ip:" + getClientIP(r)
}

func setRateLimitHeaders(w http.ResponseWriter, res *redis_rate.Result, limit redis_rate.Limit) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))
}

// =============================================================================
// Local fallback
// =============================================================================

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// localLimiter is a per-key token bucket used while redis is unavailable.
type localLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	done    chan struct{}
	once    sync.Once
}

const (
	localCleanupInterval = 5 * time.Minute
	localEntryTTL        = 10 * time.Minute
)

func newLocalLimiter() *localLimiter {
	l := &localLimiter{
		entries: make(map[string]*limiterEntry),
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *localLimiter) stop() {
	l.once.Do(func() { close(l.done) })
}

// cleanup periodically removes idle entries to prevent memory leaks.
func (l *localLimiter) cleanup() {
	ticker := time.NewTicker(localCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-localEntryTTL)
			l.mu.Lock()
			for key, entry := range l.entries {
				if entry.lastAccess.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d per %s", limit.Rate, limit.Period)
	}
	perSecond := float64(limit.Rate) / limit.Period.Seconds()

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Burst)}
		l.entries[key] = entry
	}
	entry.lastAccess = time.Now()
	l.mu.Unlock()

	interval := time.Duration(float64(time.Second) / perSecond)
	res := &redis_rate.Result{
		Limit:      limit,
		RetryAfter: -1,
		ResetAfter: interval,
	}

	if entry.limiter.Allow() {
		res.Allowed = 1
	} else {
		res.RetryAfter = interval
	}

	res.Remaining = int(entry.limiter.Tokens())
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	return res, nil
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if clientIP := strings.TrimSpace(ips[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
