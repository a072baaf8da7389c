package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"whatstopic/internal/httputil"
	"whatstopic/internal/metrics"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token bucket per client IP. Buckets idle for
// longer than the window are dropped on the next sweep.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	buckets  map[string]*bucket
	lastScan time.Time
	now      func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows limit requests per window per IP. A non-positive
// limit denies everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether ip may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastScan) > rl.window {
		for key, b := range rl.buckets {
			if now.Sub(b.seen) > rl.window {
				delete(rl.buckets, key)
			}
		}
		rl.lastScan = now
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.limit)), rl.limit)}
		rl.buckets[ip] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// Size returns the number of tracked IPs.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Middleware rejects requests over the limit with 429. Clients are told
// apart by the address clientIP resolves.
func (rl *RateLimiter) Middleware(clientIP *httputil.ClientIP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientIP.Resolve(r)) {
				metrics.IncrementCounter("http_rate_limited_total", map[string]string{
					"endpoint": r.URL.Path,
				}, "Requests rejected by the rate limiter")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearerToken guards operator endpoints. An empty token disables
// them entirely.
func RequireBearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "operator API disabled", http.StatusNotFound)
				return
			}
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
