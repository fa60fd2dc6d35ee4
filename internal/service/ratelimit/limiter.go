package ratelimit

import (
	"net/http"
	"sync"
	"time"

	xhttp "StreamPull/pkg/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type client struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*client
	rate  rate.Limit
	burst int
	now   func() time.Time
}

// New creates a limiter holding up to capacity tokens per key, refilled at refillPerSec.
// A capacity below one disables limiting.
func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		m:     make(map[string]*client),
		rate:  rate.Limit(refillPerSec),
		burst: int(capacity),
		now:   time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	if l.burst <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	c, ok := l.m[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.rate, l.burst)}
		l.m[key] = c
	}
	c.last = now
	l.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

// Sweep drops keys idle for longer than idle; a dropped key starts full again.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, c := range l.m {
		if c.last.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}

// Middleware rejects requests over the per-client-IP budget with 429.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return xhttp.AppErrorResponse(c,
					xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests))
			}
			return next(c)
		}
	}
}
