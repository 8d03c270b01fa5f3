package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client IP. Buckets idle for
// longer than the expiry are dropped.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors *cache.Cache
}

// NewRateLimiter allows perMinute requests per IP with bursts of up to
// perMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		visitors: cache.New(10*time.Minute, 5*time.Minute),
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.visitors.Get(ip); ok {
		rl.visitors.SetDefault(ip, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.visitors.SetDefault(ip, l)
	return l
}

// Allow consumes a token for ip.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).Allow()
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// It keys on RemoteAddr, which TrustedRealIP has already rewritten.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr).String()
		l := rl.limiter(ip)

		res := l.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", itoa(int(math.Ceil(delay.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, core.NewError(core.KindNetwork, core.SubTimeout,
				map[string]any{"reason": "rate limit exceeded"},
				core.WithMessage("Too many requests."),
				core.WithHints("Wait a moment and try again.")))
			return
		}

		next.ServeHTTP(w, r)
	})
}
