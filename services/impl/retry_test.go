package impl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestIsTransient(t *testing.T) {
	t.Run("nil is not transient", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
	})

	t.Run("4xx client statuses are permanent", func(t *testing.T) {
		for _, code := range []int{400, 401, 403, 404} {
			assert.False(t, IsTransient(&HTTPStatusError{StatusCode: code, Message: "no"}), "status %d", code)
		}
	})

	t.Run("retryable statuses are transient", func(t *testing.T) {
		for _, code := range []int{408, 429, 500, 502, 503, 504} {
			assert.True(t, IsTransient(&HTTPStatusError{StatusCode: code, Message: "try again"}), "status %d", code)
		}
	})

	t.Run("deadline exceeded is transient", func(t *testing.T) {
		assert.True(t, IsTransient(context.DeadlineExceeded))
	})

	t.Run("net timeout is transient", func(t *testing.T) {
		var err error = &net.DNSError{Err: "lookup failed", IsTimeout: true}
		assert.True(t, IsTransient(err))
	})

	t.Run("message heuristics catch untyped provider errors", func(t *testing.T) {
		assert.True(t, IsTransient(errors.New("upstream connection reset by peer")))
		assert.True(t, IsTransient(errors.New("provider rate limit hit")))
		assert.False(t, IsTransient(errors.New("invalid model name")))
	})
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		err := fastPolicy(3).Do(context.Background(), "req-1", func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient errors are retried until success", func(t *testing.T) {
		calls := 0
		err := fastPolicy(3).Do(context.Background(), "req-2", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return &HTTPStatusError{StatusCode: 503, Message: "unavailable"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error short-circuits", func(t *testing.T) {
		calls := 0
		permanent := &HTTPStatusError{StatusCode: 400, Message: "bad request"}
		err := fastPolicy(5).Do(context.Background(), "req-3", func(ctx context.Context) error {
			calls++
			return permanent
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.ErrorAs(t, err, new(*HTTPStatusError))
	})

	t.Run("exhausted attempts return the last error", func(t *testing.T) {
		calls := 0
		err := fastPolicy(3).Do(context.Background(), "req-4", func(ctx context.Context) error {
			calls++
			return &HTTPStatusError{StatusCode: 502, Message: "bad gateway"}
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		policy := &RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := policy.Do(ctx, "req-5", func(ctx context.Context) error {
			calls++
			return &HTTPStatusError{StatusCode: 503, Message: "unavailable"}
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.LessOrEqual(t, calls, 2)
	})

	t.Run("backoff never exceeds the configured maximum", func(t *testing.T) {
		policy := fastPolicy(10)
		for attempt := 1; attempt <= 10; attempt++ {
			delay := policy.backoff(attempt)
			assert.LessOrEqual(t, delay, policy.MaxDelay)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
		}
	})
}
