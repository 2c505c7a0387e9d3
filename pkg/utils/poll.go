package utils

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// PollConfig bounds a status poll loop. Every loop carries both a wall-clock
// timeout and an attempt ceiling; zero values fall back to the defaults below.
type PollConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollTimeout     = 6 * time.Hour
	DefaultPollMaxAttempts = 10800
)

// WithDefaults fills unset fields.
func (c PollConfig) WithDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultPollMaxAttempts
	}
	return c
}

// PollResult describes how a poll loop ended.
type PollResult struct {
	Attempts int
	Elapsed  time.Duration
}

// PollUntil calls cond immediately and then every Interval until it reports done,
// returns an error, the timeout expires, or MaxAttempts calls have been made.
//
// Returns:
//   - nil when cond reported done
//   - the error cond returned, unchanged
//   - ctx.Err() when the parent context was cancelled
//   - an error wrapping ErrPollExhausted when a bound was hit
func PollUntil(ctx context.Context, cfg PollConfig, cond func(ctx context.Context, attempt int) (bool, error)) (PollResult, error) {
	cfg = cfg.WithDefaults()
	start := time.Now()
	attempts := 0
	capped := false

	err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true, func(ctx context.Context) (bool, error) {
		if attempts >= cfg.MaxAttempts {
			capped = true
			return false, ErrPollExhausted
		}
		attempts++
		return cond(ctx, attempts)
	})

	res := PollResult{Attempts: attempts, Elapsed: time.Since(start)}
	if err == nil {
		klog.V(4).Infof("Poll finished after %d attempts (%s)", attempts, res.Elapsed)
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if capped {
		return res, fmt.Errorf("%w: %d attempts", ErrPollExhausted, attempts)
	}
	if wait.Interrupted(err) {
		return res, fmt.Errorf("%w: timeout %s after %d attempts", ErrPollExhausted, cfg.Timeout, attempts)
	}
	return res, err
}
