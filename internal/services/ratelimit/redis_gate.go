package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	minPoll     = 5 * time.Millisecond
	defaultPoll = 50 * time.Millisecond
)

type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisGate spaces acquisitions across every process sharing key. Holding the
// key for interval (SET NX PX) marks a dispatch start; other callers wait out
// its remaining TTL.
//
// When Redis cannot be reached the gate degrades to the local fallback so
// dispatch stays paced within this process.
type RedisGate struct {
	redis    RedisClient
	key      string
	interval time.Duration
	fallback Gate
	logger   *zap.Logger
}

func NewRedisGate(redis RedisClient, key string, interval time.Duration, fallback Gate, logger *zap.Logger) *RedisGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = NewIntervalLimiter(interval, logger)
	}
	return &RedisGate{
		redis:    redis,
		key:      key,
		interval: interval,
		fallback: fallback,
		logger:   logger,
	}
}

func (g *RedisGate) Acquire(ctx context.Context) error {
	if g.interval <= 0 {
		return nil
	}

	token := uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rate limiter wait cancelled: %w", err)
		}

		ok, err := g.redis.SetNX(ctx, g.key, token, g.interval).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("rate limiter wait cancelled: %w", ctxErr)
			}
			g.logger.Warn("distributed rate limit unavailable, using local limiter",
				zap.String("key", g.key), zap.Error(err))
			return g.fallback.Acquire(ctx)
		}
		if ok {
			return nil
		}

		wait, err := g.redis.PTTL(ctx, g.key).Result()
		if err != nil || wait <= 0 {
			// key vanished or has no expiry yet; poll shortly
			wait = defaultPoll
		}
		if wait < minPoll {
			wait = minPoll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
