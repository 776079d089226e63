package middleware

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterTTL = 5 * time.Minute

// RateLimiter is a per-client-IP token bucket.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	limiters sync.Map // client ip -> *cachedLimiter

	lastSweep atomic.Int64 // unix nanos
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithTTL sets how long a limiter is kept after its client's last request.
func WithTTL(ttl time.Duration) RateLimitOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithLimit sets requests per second and burst. A limit of 0 means unlimited.
func WithLimit(perSecond float64, burst int) RateLimitOption {
	return func(rl *RateLimiter) {
		rl.limit = rate.Limit(perSecond)
		rl.burst = burst
	}
}

// NewRateLimiter creates a RateLimiter. Without WithLimit it allows everything.
func NewRateLimiter(opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{ttl: defaultLimiterTTL}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	return rl
}

// Middleware returns the HTTP middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RateLimit=0 means unlimited
			if rl.limit > 0 {
				limiter := rl.getOrCreateLimiter(clientIP(r))
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

func (c *cachedLimiter) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(0, c.lastSeen.Load())) >= ttl
}

func (rl *RateLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	now := time.Now()
	if v, ok := rl.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if !cached.expired(now, rl.ttl) {
			cached.lastSeen.Store(now.UnixNano())
			return cached.limiter
		}
		rl.limiters.CompareAndDelete(key, v)
	}

	rl.sweep(now)

	fresh := &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	fresh.lastSeen.Store(now.UnixNano())
	actual, _ := rl.limiters.LoadOrStore(key, fresh)
	return actual.(*cachedLimiter).limiter
}

// sweep drops idle limiters, at most once per TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(rl.ttl) || !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	rl.limiters.Range(func(k, v any) bool {
		if v.(*cachedLimiter).expired(now, rl.ttl) {
			rl.limiters.CompareAndDelete(k, v)
		}
		return true
	})
}

// clientIP returns the remote host without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
