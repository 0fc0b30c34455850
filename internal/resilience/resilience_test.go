package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("schema mismatch")))
	assert.True(t, IsTransient(&RateLimitedError{Service: "overpass"}))
	assert.True(t, IsTransient(&TimeoutError{Service: "census", Elapsed: time.Second}))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}

func TestIsTimeout_DeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.True(t, IsTimeout(ctx.Err()))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	val, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &RateLimitedError{Service: "test"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDoVal_StopsOnPermanent(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}
	_, err := DoVal(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, &TimeoutError{Service: "test"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return &TimeoutError{Service: "test", Elapsed: time.Millisecond}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
