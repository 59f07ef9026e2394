package chain

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

var errNonRetryable = errors.New("non-retryable error")

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	result, err := RetryWithConfig(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", ErrRetryable
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableError(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := RetryWithConfig(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		return "", errNonRetryable
	})

	require.ErrorIs(t, err, errNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_MaxAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := RetryWithConfig(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, WrapRetryable(errNonRetryable)
	})

	require.ErrorIs(t, err, ErrRetryable)
	assert.Equal(t, 4, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	attempts := 0
	_, err := RetryWithConfig(ctx, cfg, func() (string, error) {
		attempts++
		return "", ErrRateLimited
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestCalculateDelay(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	maxDelay := 500 * time.Millisecond

	d := calculateDelay(0, base, maxDelay)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.Less(t, d, 100*time.Millisecond)

	d = calculateDelay(10, base, maxDelay)
	assert.GreaterOrEqual(t, d, 250*time.Millisecond)
	assert.Less(t, d, maxDelay)

	assert.Zero(t, calculateDelay(0, 0, 0))

	// attempts far past the cap never overflow the shift
	cfg := RetryConfig{BaseDelay: time.Hour, MaxDelay: 2 * time.Hour}
	for _, attempt := range []int{40, 64, 1000} {
		d = cfg.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Hour)
		assert.Less(t, d, 2*time.Hour)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errNonRetryable))
	assert.True(t, IsRetryable(ErrRetryable))
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.NoError(t, WrapRetryable(nil))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	resp := func(code int, retryAfter string) *http.Response {
		h := http.Header{}
		if retryAfter != "" {
			h.Set("Retry-After", retryAfter)
		}
		return &http.Response{StatusCode: code, Header: h}
	}

	assert.ErrorIs(t, classifyStatus(resp(http.StatusTooManyRequests, "3")), ErrRateLimited)
	assert.ErrorIs(t, classifyStatus(resp(http.StatusBadGateway, "")), ErrRetryable)
	assert.ErrorIs(t, classifyStatus(resp(http.StatusUnauthorized, "")), bridgeerr.ErrAuth)
	assert.False(t, IsRetryable(classifyStatus(resp(http.StatusBadRequest, ""))))

	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter("soon"))
}
