package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common conditions.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrDiscovery indicates the inventory tool was unavailable or failed
	ErrDiscovery = errors.New("device discovery failed")

	// ErrInsufficientDevices indicates the catalog is smaller than required
	ErrInsufficientDevices = errors.New("insufficient devices")

	// ErrNoFeasibleLayout indicates enumeration produced no layout for the device count
	ErrNoFeasibleLayout = errors.New("no feasible layout")

	// ErrCommandFailed indicates an external command exited non-zero
	ErrCommandFailed = errors.New("external command failed")

	// ErrRecoveryTimeout indicates a poll loop exceeded its duration or iteration bound
	ErrRecoveryTimeout = errors.New("recovery timeout")

	// ErrInvalidTransition indicates a lifecycle step was called from the wrong state
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrPoolNotFound indicates the named pool does not exist
	ErrPoolNotFound = errors.New("pool not found")

	// ErrToolNotFound indicates the external binary could not be located
	ErrToolNotFound = errors.New("tool not found")

	// ErrCircuitOpen indicates the command transport is failing fast
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrPollExhausted indicates PollUntil ran out of time or attempts
	ErrPollExhausted = errors.New("poll exhausted")
)

// DiscoveryError wraps a failure of the inventory step (listing or probing devices).
type DiscoveryError struct {
	Step string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("device discovery failed during %s: %v", e.Step, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDiscovery) match any DiscoveryError.
func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

// InsufficientDevicesError reports how many devices were found versus required.
type InsufficientDevicesError struct {
	Found    int
	Required int
}

func (e *InsufficientDevicesError) Error() string {
	return fmt.Sprintf("insufficient devices: found %d, need at least %d", e.Found, e.Required)
}

func (e *InsufficientDevicesError) Is(target error) bool { return target == ErrInsufficientDevices }

// CommandError is returned when an external command runs but exits non-zero.
// It carries the command line and captured standard error for the report.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("command %q failed (exit %d)", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed (exit %d): %s", e.Command, e.ExitCode, msg)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

// RecoveryTimeoutError is returned when waiting for a resilver or scrub to clear
// exceeds the configured bounds.
type RecoveryTimeoutError struct {
	Activity string
	Elapsed  time.Duration
	Polls    int
}

func (e *RecoveryTimeoutError) Error() string {
	return fmt.Sprintf("%s still in progress after %s (%d polls)", e.Activity, e.Elapsed.Round(time.Millisecond), e.Polls)
}

func (e *RecoveryTimeoutError) Is(target error) bool { return target == ErrRecoveryTimeout }

// TransitionError records the state a lifecycle step was attempted from.
type TransitionError struct {
	Step string
	From string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from state %s", e.Step, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IsCommandError reports whether err is (or wraps) a CommandError and returns it.
func IsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsTimeout reports whether err is a recovery timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRecoveryTimeout)
}

// ErrorDetail flattens an error for a single-line report field.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}
