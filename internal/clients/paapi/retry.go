package paapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xsamir/ProductCompare/internal/services/ratelimit"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffUnit = time.Second
	// MaxBackoff caps a single retry wait.
	MaxBackoff = 5 * time.Minute
)

// AttemptFunc performs one signed dispatch. attempt is zero-based; each call
// must sign afresh.
type AttemptFunc func(ctx context.Context, attempt int) Result

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryHook observes a retry about to be scheduled.
type RetryHook func(outcome Outcome, attempt int, backoff time.Duration)

// RetryPolicy holds the retry budget and exponential backoff for signed requests
type RetryPolicy struct {
	MaxRetries  int
	BackoffUnit time.Duration
	Sleep       Sleeper
	OnRetry     RetryHook
	Logger      *zap.Logger
}

func DefaultRetryPolicy(logger *zap.Logger) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BackoffUnit: DefaultBackoffUnit,
		Logger:      logger,
	}
}

// Backoff returns 2^attempt × BackoffUnit for a zero-based attempt, capped
// at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BackoffUnit
	for i := 0; i < attempt && d < MaxBackoff; i++ {
		d <<= 1
	}
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// Execute runs attempt until it succeeds, fails fatally or MaxRetries retries
// are spent. gate is acquired before every attempt, retries included.
func (p RetryPolicy) Execute(ctx context.Context, gate ratelimit.Gate, attempt AttemptFunc) ([]byte, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	attempts := 0
	for i := 0; i <= p.MaxRetries; i++ {
		if err := gate.Acquire(ctx); err != nil {
			return nil, err
		}

		attempts++
		res := attempt(ctx, i)
		if err := ctx.Err(); err != nil && res.Outcome != OutcomeSuccess {
			return nil, fmt.Errorf("request abandoned: %w", err)
		}

		switch res.Outcome {
		case OutcomeSuccess:
			return res.Body, nil
		case OutcomeClientError:
			if res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden {
				return nil, errors.NewAuthenticationError(res.Status, res.Body)
			}
			return nil, errors.NewClientError(res.Status, res.Body)
		case OutcomeRateLimited:
			lastErr = errors.NewRateLimitError(res.Body)
		default:
			lastErr = errors.NewTransientNetworkError(res.Status, res.Body, res.Err)
		}

		if i == p.MaxRetries {
			break
		}

		backoff := p.Backoff(i)
		logger.Info("retrying after retryable failure",
			zap.String("outcome", res.Outcome.String()),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", p.MaxRetries+1),
			zap.Duration("backoff", backoff),
		)
		if p.OnRetry != nil {
			p.OnRetry(res.Outcome, i, backoff)
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("retry backoff interrupted: %w", err)
		}
	}

	logger.Warn("retries exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, errors.NewExhaustedRetriesError(attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
