// Package ratelimit gates outbound API dispatch so that consecutive requests
// start at least a minimum interval apart.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gate blocks until the caller may start a request. The only error it returns
// is the caller's context ending while waiting.
type Gate interface {
	Acquire(ctx context.Context) error
}

// IntervalLimiter is an in-process Gate shared by every caller in the process.
type IntervalLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	logger   *zap.Logger

	mu           sync.Mutex
	lastAcquired time.Time
}

// NewIntervalLimiter returns a limiter allowing one acquisition per interval.
// A zero interval disables waiting.
func NewIntervalLimiter(interval time.Duration, logger *zap.Logger) *IntervalLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		logger:   logger,
	}
}

func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		// rate.Limiter.Wait also fails early when the deadline is closer than
		// the required wait; surface the context error in both cases.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("rate limiter wait cancelled: %w", ctxErr)
		}
		return fmt.Errorf("rate limiter wait cancelled: %w", context.DeadlineExceeded)
	}

	now := time.Now()
	l.mu.Lock()
	l.lastAcquired = now
	l.mu.Unlock()

	if waited := now.Sub(start); waited > time.Millisecond {
		l.logger.Debug("rate limiter delayed dispatch", zap.Duration("waited", waited))
	}
	return nil
}

// LastAcquired returns when the most recent acquisition was granted, or the
// zero time if none has been.
func (l *IntervalLimiter) LastAcquired() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAcquired
}

func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}
