package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slack absorbs timer granularity on loaded CI machines.
const slack = 15 * time.Millisecond

func TestIntervalLimiter_FirstAcquireIsImmediate(t *testing.T) {
	l := NewIntervalLimiter(time.Second, zap.NewNop())
	assert.True(t, l.LastAcquired().IsZero())

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, l.LastAcquired().IsZero())
}

func TestIntervalLimiter_SequentialSpacing(t *testing.T) {
	interval := 60 * time.Millisecond
	l := NewIntervalLimiter(interval, zap.NewNop())
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Acquire(ctx))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), interval-slack)
	}
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[0]), 3*interval-slack)
}

func TestIntervalLimiter_ConcurrentCallersSerialize(t *testing.T) {
	interval := 40 * time.Millisecond
	l := NewIntervalLimiter(interval, zap.NewNop())
	ctx := context.Background()

	const callers = 5
	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, callers)
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), interval-slack)
	}
	assert.GreaterOrEqual(t, time.Since(start), (callers-1)*interval-slack)
}

func TestIntervalLimiter_CancelledWhileWaiting(t *testing.T) {
	l := NewIntervalLimiter(time.Hour, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background()))
	first := l.LastAcquired()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, first, l.LastAcquired())
}

func TestIntervalLimiter_ZeroIntervalNeverWaits(t *testing.T) {
	l := NewIntervalLimiter(0, nil)
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, time.Duration(0), l.Interval())
}

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.BoolCmd)
}

func (m *MockRedisClient) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.DurationCmd)
}

func boolCmd(ctx context.Context, v bool, err error) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(v)
	cmd.SetErr(err)
	return cmd
}

func durationCmd(ctx context.Context, d time.Duration) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Millisecond)
	cmd.SetVal(d)
	return cmd
}

type countingGate struct {
	calls int
}

func (g *countingGate) Acquire(ctx context.Context) error {
	g.calls++
	return nil
}

func TestRedisGate_AcquiresFreeSlot(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockRedis.On("SetNX", ctx, "paapi:dispatch", mock.AnythingOfType("string"), time.Second).
		Return(boolCmd(ctx, true, nil)).Once()

	gate := NewRedisGate(mockRedis, "paapi:dispatch", time.Second, nil, zap.NewNop())

	require.NoError(t, gate.Acquire(ctx))
	mockRedis.AssertExpectations(t)
}

func TestRedisGate_WaitsForHolderTTL(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockRedis.On("SetNX", ctx, "k", mock.Anything, time.Second).Return(boolCmd(ctx, false, nil)).Once()
	mockRedis.On("PTTL", ctx, "k").Return(durationCmd(ctx, 30*time.Millisecond)).Once()
	mockRedis.On("SetNX", ctx, "k", mock.Anything, time.Second).Return(boolCmd(ctx, true, nil)).Once()

	gate := NewRedisGate(mockRedis, "k", time.Second, nil, zap.NewNop())

	start := time.Now()
	require.NoError(t, gate.Acquire(ctx))

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond-slack)
	mockRedis.AssertExpectations(t)
}

func TestRedisGate_FallsBackWhenRedisFails(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockRedis.On("SetNX", ctx, "k", mock.Anything, time.Second).
		Return(boolCmd(ctx, false, errors.New("connection refused"))).Once()
	fallback := &countingGate{}

	gate := NewRedisGate(mockRedis, "k", time.Second, fallback, zap.NewNop())

	require.NoError(t, gate.Acquire(ctx))
	assert.Equal(t, 1, fallback.calls)
}

func TestRedisGate_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	mockRedis := new(MockRedisClient)
	mockRedis.On("SetNX", ctx, "k", mock.Anything, time.Second).Return(boolCmd(ctx, false, nil))
	mockRedis.On("PTTL", ctx, "k").Return(durationCmd(ctx, time.Second))

	gate := NewRedisGate(mockRedis, "k", time.Second, &countingGate{}, zap.NewNop())

	err := gate.Acquire(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRedisGate_ZeroIntervalSkipsRedis(t *testing.T) {
	mockRedis := new(MockRedisClient)
	gate := NewRedisGate(mockRedis, "k", 0, nil, nil)

	require.NoError(t, gate.Acquire(context.Background()))
	mockRedis.AssertNotCalled(t, "SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
