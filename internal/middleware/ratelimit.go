// ratelimit.go throttles the roster mutation endpoints per client IP, returning 429 once
// the configured requests-per-minute budget is spent. Two backends exist: an in-process
// token bucket and a redis-backed GCRA limiter shared by every replica.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/config"
)

// Limiter decides whether the client identified by key may make another request.
type Limiter interface {
	// Allow consumes one token for key and reports whether the request may proceed
	// together with the tokens left afterwards.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	// Limit is the configured requests-per-minute budget.
	Limit() int
	// Stop releases background goroutines and connections.
	Stop()
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate
	RequestsPerMinute int
	// BurstSize is the bucket capacity
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped (memory backend only)
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the limits applied to signup and unregister.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom fills a RateLimitConfig from the loaded configuration, keeping the
// defaults for any non-positive value.
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	rc := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rc.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		rc.BurstSize = cfg.Burst
	}
	return rc
}

// NewLimiter builds the limiter selected by cfg.Security.RateLimiting.Backend.
func NewLimiter(cfg *config.Config) (Limiter, error) {
	rc := RateLimitConfigFrom(cfg.Security.RateLimiting)
	switch cfg.Security.RateLimiting.Backend {
	case "", "memory":
		return NewRateLimiter(rc), nil
	case "redis":
		return NewRedisRateLimiter(rc, cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting backend: %s", cfg.Security.RateLimiting.Backend)
	}
}

// bucket tracks the tokens left for one client
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-process token bucket limiter
type RateLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a new in-process limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically drops buckets idle for more than ten minutes
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now(), 10*time.Minute)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time, idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > idle {
			delete(rl.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Limit returns the configured requests per minute
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		// New client starts with a full bucket.
		rl.buckets[key] = &bucket{tokens: float64(rl.config.BurstSize) - 1, lastUpdate: now}
		return rl.config.BurstSize > 0, max(rl.config.BurstSize-1, 0), nil
	}

	perSecond := float64(rl.config.RequestsPerMinute) / 60.0
	b.tokens = math.Min(float64(rl.config.BurstSize), b.tokens+now.Sub(b.lastUpdate).Seconds()*perSecond)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), nil
	}
	return false, 0, nil
}

// RateLimitMiddleware rejects requests once the client's budget is exhausted. Limiter
// errors (e.g. redis unreachable) are logged and the request is let through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	limit := strconv.Itoa(limiter.Limit())
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey identifies the client; there is no authentication, so only the IP is available.
func rateLimitKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
