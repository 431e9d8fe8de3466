package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterStaleThreshold  = 10 * time.Minute
)

// rateLimiter implements per-owner rate limiting using golang.org/x/time/rate.
// Keys are owner IDs resolved by authentication, so one caller cannot dodge
// the limit by rotating source addresses. Cleanup of stale entries happens
// inline during allow() calls.
type rateLimiter struct {
	mu          sync.Mutex
	callers     map[string]*caller
	limit       rate.Limit
	burst       int
	retryAfter  string
	lastCleanup time.Time
}

// caller holds a rate limiter and last-seen time for a single owner.
type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a rate limiter.
// r: tokens refilled per second. burst: maximum tokens (and initial allowance).
func newRateLimiter(r float64, burst int) *rateLimiter {
	secs := int(math.Ceil(1 / r))
	if secs < 1 {
		secs = 1
	}
	return &rateLimiter{
		callers:     make(map[string]*caller),
		limit:       rate.Limit(r),
		burst:       burst,
		retryAfter:  strconv.Itoa(secs),
		lastCleanup: time.Now(),
	}
}

// allow checks if a request from the given owner is allowed.
// Returns false if the owner has exhausted its tokens.
func (rl *rateLimiter) allow(ownerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Periodic cleanup of stale entries
	if now.Sub(rl.lastCleanup) > rateLimiterCleanupInterval {
		for k, c := range rl.callers {
			if now.Sub(c.lastSeen) > rateLimiterStaleThreshold {
				delete(rl.callers, k)
			}
		}
		rl.lastCleanup = now
	}

	c, exists := rl.callers[ownerID]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.callers[ownerID] = &caller{
			limiter:  limiter,
			lastSeen: now,
		}
		limiter.Allow()
		return true
	}

	c.lastSeen = now
	return c.limiter.Allow()
}

// rateLimitMiddleware returns middleware that limits requests per owner.
// Uses token bucket algorithm: each owner gets `burst` initial tokens,
// refilling at `rate` tokens per second. Requests without an authenticated
// owner pass through; the handler rejects them with 401 anyway.
func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, ok := ownerFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.allow(ownerID) {
				logger.Warn("rate limit exceeded",
					"owner_id", ownerID,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", rl.retryAfter)
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
