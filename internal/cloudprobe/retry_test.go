package cloudprobe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Backoff: 2.0}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("Throttling: rate exceeded")))
	assert.True(t, IsTransient(errors.New("http status 503")))
	assert.True(t, IsTransient(errors.New("TooManyRequests")))
	assert.False(t, IsTransient(errors.New("AccessDenied: not authorized")))
	assert.False(t, IsTransient(errors.New("InvalidParameterValue")))
	assert.False(t, IsTransient(nil))
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsImmediatelyOnNonTransient(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("AccessDenied")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth/permission errors must not retry")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("throttling")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Minute, Backoff: 2.0}
	_, err := Retry(ctx, cfg, func(ctx context.Context) (int, error) {
		return 0, errors.New("503")
	})
	require.ErrorIs(t, err, context.Canceled)
}
