package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// RedisClient interface for Redis operations
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type MetricsRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// Service stores JSON-encoded values in Redis with a fixed TTL
type Service struct {
	redis   RedisClient
	name    string
	ttl     time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewService creates a cache named name (used as the metrics label)
func NewService(redis RedisClient, name string, ttl time.Duration, metrics MetricsRecorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		redis:   redis,
		name:    name,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// Get decodes the cached value into dest. A missing key is not an error.
func (s *Service) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.recordMiss()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		s.recordMiss()
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.RecordCacheHit(s.name)
	}
	return true, nil
}

func (s *Service) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}

	return nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key).Err()
}

func (s *Service) recordMiss() {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.name)
	}
}

// BuildKey joins non-empty parts with ':'
func BuildKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

// PayloadKey derives a key from the exact request bytes, so two requests
// share an entry only if they would be signed over the same payload.
func PayloadKey(prefix string, payload []byte) string {
	sum := blake2b.Sum256(payload)
	return BuildKey(prefix, hex.EncodeToString(sum[:]))
}
