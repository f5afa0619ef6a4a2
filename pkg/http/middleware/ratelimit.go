package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS        float64
	Burst      int
	PathPrefix string        // only paths under this prefix are limited; empty limits all
	IdleTTL    time.Duration // buckets unused this long are evicted
}

// clientLimiters keeps one token bucket per client IP.
type clientLimiters struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[string]*bucket
	lastGC  time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiters(cfg RateLimitConfig) *clientLimiters {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &clientLimiters{cfg: cfg, buckets: make(map[string]*bucket), lastGC: time.Now()}
}

func (cl *clientLimiters) allow(key string, now time.Time) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if now.Sub(cl.lastGC) > cl.cfg.IdleTTL {
		for k, b := range cl.buckets {
			if now.Sub(b.seen) > cl.cfg.IdleTTL {
				delete(cl.buckets, k)
			}
		}
		cl.lastGC = now
	}

	b, ok := cl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(cl.cfg.RPS), cl.cfg.Burst)}
		cl.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// RateLimit rejects requests over the per-client budget with 429.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiters := newClientLimiters(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.PathPrefix != "" && !strings.HasPrefix(c.Request().URL.Path, cfg.PathPrefix) {
				return next(c)
			}
			if !limiters.allow(c.RealIP(), time.Now()) {
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": http.StatusText(http.StatusTooManyRequests),
				})
			}
			return next(c)
		}
	}
}
