package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Sentinel errors for retry logic.
var (
	ErrRetryable = &bridgeerr.BridgeError{
		Code:     "RETRYABLE_ERROR",
		Message:  "retryable error",
		ExitCode: bridgeerr.ExitNetwork,
	}

	ErrRateLimited = &bridgeerr.BridgeError{
		Code:     "RATE_LIMITED",
		Message:  "rate limited by node",
		ExitCode: bridgeerr.ExitNetwork,
	}
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (including initial)
	BaseDelay   time.Duration // Initial delay between retries
	MaxDelay    time.Duration // Maximum delay between retries
}

// DefaultRetryConfig returns the default retry configuration.
// 4 attempts total (1 initial + 3 retries) with delays: 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
	}
}

// RetryWithConfig executes a read-only operation with exponential backoff.
// Mutating requests must not go through it.
func RetryWithConfig[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := range attempts {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, err
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(calculateDelay(attempt, cfg.BaseDelay, cfg.MaxDelay))
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return result, fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// Backoff returns the jittered delay to wait before retry attempt (zero
// based). Callers that retry without limit use it and ignore MaxAttempts.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return calculateDelay(attempt, c.BaseDelay, c.MaxDelay)
}

// calculateDelay calculates the delay for the given attempt using exponential backoff with jitter.
func calculateDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay
	for range attempt {
		if delay >= maxDelay {
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // G404: Jitter does not require cryptographic randomness
}

// IsRetryable returns true if the error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRetryable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// WrapRetryable wraps an error to mark it as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// classifyStatus maps an HTTP status to a retryable or permanent error.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= http.StatusInternalServerError:
		return WrapRetryable(fmt.Errorf("node returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		return bridgeerr.Kindf(bridgeerr.ErrAuth, "node rejected the api secret")
	default:
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
}

// parseRetryAfter parses the Retry-After header value.
// Returns 0 if parsing fails.
func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
