package redis

import (
	"context"
	"testing"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewClient_Unreachable(t *testing.T) {
	cfg := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	client, err := NewClient(cfg, zap.NewNop())

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestClient_Key(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		parts    []string
		expected string
	}{
		{"with prefix", "pricecompare", []string{"session", "abc"}, "pricecompare:session:abc"},
		{"without prefix", "", []string{"paapi", "dispatch"}, "paapi:dispatch"},
		{"prefix only", "pricecompare", nil, "pricecompare"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), tt.prefix, nil)
			defer c.Close()
			assert.Equal(t, tt.expected, c.Key(tt.parts...))
		})
	}
}

func TestClient_CommandsBuildWithoutServer(t *testing.T) {
	// Commands are lazily executed; against a closed port each must return a
	// populated command carrying a connection error rather than panicking.
	c := newClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), "p", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, c.Ping(ctx))
	assert.Error(t, c.SetNX(ctx, "k", "1", time.Second).Err())
	assert.Error(t, c.PTTL(ctx, "k").Err())
	assert.Error(t, c.Get(ctx, "k").Err())
	assert.Error(t, c.Set(ctx, "k", "v", time.Second).Err())
	assert.Error(t, c.Del(ctx, "k").Err())
}
