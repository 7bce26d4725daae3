package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/lecture-platform/internal/platform/api"
	"github.com/example/lecture-platform/internal/platform/auth"
	"github.com/example/lecture-platform/internal/platform/httpserver"
)

// idleTTL is how long an unused limiter is kept before it is dropped.
const idleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per client: the authenticated user when
// known, the client IP otherwise.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*client
	rate      rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (req/s) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*client),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleTTL {
		for k, c := range rl.limiters {
			if now.Sub(c.seen) > idleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.limiters[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + uid
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware returns an HTTP middleware that answers 429 once a client runs
// out of tokens.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			rid := httpserver.RequestIDFromContext(r.Context())
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", rid, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
