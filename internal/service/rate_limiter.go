package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/data-vault/pkg/database"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding window log limiter on Redis sorted sets.
// It guards login/signup per IP and manual sync triggers per user.
type RateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *database.Redis) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow records one hit for key and reports whether it fits into limit per window
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	redisKey := "ratelimit:" + key
	windowStart := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", windowStart)
		card = pipe.ZCard(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to count rate limit window: %w", err)
	}

	if card.Val() >= int64(limit) {
		return false, nil
	}

	_, err = r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: uuid.NewString(),
		})
		pipe.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record rate limit hit: %w", err)
	}

	return true, nil
}

// Remaining returns how many hits key has left in the current window
func (r *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	redisKey := "ratelimit:" + key
	windowStart := strconv.FormatInt(r.now().Add(-window).UnixMilli(), 10)

	count, err := r.redis.Client.ZCount(ctx, redisKey, windowStart, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit window: %w", err)
	}

	return max(limit-int(count), 0), nil
}
