package utils

import (
	"context"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// DefaultBackoffConfig returns the backoff used for transient array-tool failures
// (a pool that is still busy right after a resilver, a transport hiccup).
func DefaultBackoffConfig() wait.Backoff {
	return wait.Backoff{
		Steps:    5,               // Maximum 5 attempts
		Duration: 1 * time.Second, // 1s, 2s, 4s, 8s, 16s
		Factor:   2.0,
		Jitter:   0.1,
	}
}

// RetryWithBackoff retries fn with exponential backoff until success or exhaustion.
// Non-retryable errors stop the loop immediately and are returned as-is.
//
// Returns:
//   - nil if fn() succeeds
//   - the last retryable error if all attempts are exhausted
//   - the actual error if fn() returns a non-retryable error
//   - context.Canceled or context.DeadlineExceeded if ctx ends first
func RetryWithBackoff(ctx context.Context, backoff wait.Backoff, fn func() error) error {
	var lastErr error
	attempt := 0

	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		lastErr = fn()

		if lastErr == nil {
			klog.V(4).Infof("Operation succeeded on attempt %d", attempt)
			return true, nil
		}

		if IsRetryableError(lastErr) {
			klog.V(4).Infof("Attempt %d failed with retryable error: %v", attempt, lastErr)
			return false, nil
		}

		klog.V(4).Infof("Attempt %d failed with non-retryable error: %v", attempt, lastErr)
		return false, lastErr
	})

	if wait.Interrupted(err) && lastErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		klog.V(2).Infof("All %d retry attempts exhausted, last error: %v", attempt, lastErr)
		return lastErr
	}

	return err
}

// IsRetryableError determines if an error is transient and worth retrying.
// Covers both transport failures and the array tool's own "busy" responses.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"temporary failure",
		"resource temporarily unavailable",
		"pool is busy",
		"device busy",
		"device or resource busy",
		"try again",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
