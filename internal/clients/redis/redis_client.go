package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Client wraps the go-redis client with the subset of commands the cache,
// session throttle and distributed dispatch gate rely on.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewClient connects and pings Redis
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))

	return newClient(rdb, cfg.KeyPrefix, logger), nil
}

func newClient(rdb *redis.Client, prefix string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rdb: rdb, prefix: prefix, logger: logger}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key namespaces parts under the configured prefix.
func (c *Client) Key(parts ...string) string {
	key := c.prefix
	for _, part := range parts {
		if key == "" {
			key = part
			continue
		}
		key += ":" + part
	}
	return key
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.rdb.Get(ctx, key)
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return c.rdb.Set(ctx, key, value, expiration)
}

func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return c.rdb.SetNX(ctx, key, value, expiration)
}

func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return c.rdb.Del(ctx, keys...)
}

// PTTL returns the remaining time to live with millisecond precision.
func (c *Client) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	return c.rdb.PTTL(ctx, key)
}
