package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/mergington/activities/internal/config"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mhs:ratelimit:"

// RedisRateLimiter shares one GCRA budget per client across every replica.
type RedisRateLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	rpm     int
}

// NewRedisRateLimiter connects lazily; an unreachable server surfaces as an Allow error.
func NewRedisRateLimiter(cfg RateLimitConfig, rc config.RedisConfig) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	return newRedisRateLimiter(cfg, client)
}

func newRedisRateLimiter(cfg RateLimitConfig, client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
		rpm: cfg.RequestsPerMinute,
	}
}

// Allow consumes one token for key from the shared budget.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := r.limiter.Allow(ctx, redisKeyPrefix+key, r.limit)
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	return res.Allowed > 0, res.Remaining, nil
}

// Limit returns the configured requests per minute
func (r *RedisRateLimiter) Limit() int {
	return r.rpm
}

// Stop closes the redis connection pool.
func (r *RedisRateLimiter) Stop() {
	_ = r.client.Close()
}
