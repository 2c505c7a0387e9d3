package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

func TestDefaultBackoffConfig(t *testing.T) {
	backoff := DefaultBackoffConfig()

	if backoff.Steps != 5 {
		t.Errorf("Expected Steps=5, got %d", backoff.Steps)
	}
	if backoff.Duration != 1*time.Second {
		t.Errorf("Expected Duration=1s, got %v", backoff.Duration)
	}
	if backoff.Factor != 2.0 {
		t.Errorf("Expected Factor=2.0, got %f", backoff.Factor)
	}
	if backoff.Jitter != 0.1 {
		t.Errorf("Expected Jitter=0.1, got %f", backoff.Jitter)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:22: connection refused"), expected: true},
		{name: "Connection Refused (case insensitive)", err: errors.New("Connection Refused"), expected: true},
		{name: "pool is busy", err: errors.New("cannot destroy 'bench': pool is busy"), expected: true},
		{name: "device or resource busy", err: errors.New("cannot open '/dev/sdb': Device or resource busy"), expected: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "wrapped command error", err: &CommandError{Command: "zpool destroy bench", ExitCode: 1, Stderr: "pool is busy"}, expected: true},
		{name: "no such pool (not retryable)", err: errors.New("cannot open 'bench': no such pool"), expected: false},
		{name: "permission denied (not retryable)", err: errors.New("permission denied"), expected: false},
		{name: "invalid vdev specification (not retryable)", err: errors.New("invalid vdev specification"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_RetryThenSuccess(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		if attemptCount < 3 {
			return errors.New("pool is busy")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attemptCount := 0
	nonRetryableErr := errors.New("permission denied")

	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		return nonRetryableErr
	})

	if !errors.Is(err, nonRetryableErr) {
		t.Errorf("Expected permission denied error, got: %v", err)
	}
	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt (no retries for non-retryable), got %d", attemptCount)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	backoff := testBackoffConfig()
	backoff.Steps = 3

	attemptCount := 0
	busy := errors.New("pool is busy")
	err := RetryWithBackoff(context.Background(), backoff, func() error {
		attemptCount++
		return busy
	})

	// Exhaustion surfaces the last underlying error, not a bare timeout
	if !errors.Is(err, busy) {
		t.Errorf("Expected last retryable error, got: %v", err)
	}
	if wait.Interrupted(err) {
		t.Errorf("Did not expect an interrupted error, got: %v", err)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts (all retries exhausted), got %d", attemptCount)
	}
}

func TestRetryWithBackoff_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backoff := testBackoffConfig()
	backoff.Duration = 100 * time.Millisecond

	attemptCount := 0
	err := RetryWithBackoff(ctx, backoff, func() error {
		attemptCount++
		if attemptCount == 1 {
			cancel()
		}
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

// testBackoffConfig returns a fast backoff config for testing (1ms delays)
func testBackoffConfig() wait.Backoff {
	return wait.Backoff{
		Steps:    5,
		Duration: 1 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.0,
	}
}
