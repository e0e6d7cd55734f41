package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xsamir/ProductCompare/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient interface for Redis operations
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Service tracks when each browser session last triggered a catalogue
// refresh. A session is due again once interval has elapsed.
type Service struct {
	redis    RedisClient
	prefix   string
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a new refresh throttle
func NewService(rdb RedisClient, keyPrefix string, interval time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		redis:    rdb,
		prefix:   keyPrefix,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Service) buildKey(sessionID string) string {
	return fmt.Sprintf("%s:refresh:%s", s.prefix, sessionID)
}

// LastRefresh returns the time of the session's last successful refresh.
func (s *Service) LastRefresh(ctx context.Context, sessionID string) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, s.buildKey(sessionID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.WrapDomainError(err, errors.CodeUnavailable, "refresh throttle lookup failed", "redis error")
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring malformed refresh stamp", zap.String("session_id", sessionID), zap.String("value", val))
		return time.Time{}, false, nil
	}
	return time.Unix(unix, 0), true, nil
}

// Due reports whether the session should refresh now.
func (s *Service) Due(ctx context.Context, sessionID string) (bool, error) {
	last, ok, err := s.LastRefresh(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) > s.interval, nil
}

// MarkRefreshed records a successful refresh. Failed refreshes are not
// recorded so the next request retries.
func (s *Service) MarkRefreshed(ctx context.Context, sessionID string) error {
	stamp := strconv.FormatInt(s.now().Unix(), 10)
	// the key outlives the interval slightly so Due can compare strictly
	if err := s.redis.Set(ctx, s.buildKey(sessionID), stamp, s.interval+time.Minute).Err(); err != nil {
		return errors.WrapDomainError(err, errors.CodeUnavailable, "refresh throttle update failed", "redis error")
	}
	return nil
}
