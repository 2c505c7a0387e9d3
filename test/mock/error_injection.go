package mock

import (
	"sync"

	"k8s.io/klog/v2"
)

// ErrorMode defines the type of error to inject
type ErrorMode int

const (
	// ErrorModeNone indicates no error injection
	ErrorModeNone ErrorMode = iota
	// ErrorModeCreateFail makes pool creation exit non-zero
	ErrorModeCreateFail
	// ErrorModeDestroyBusy makes destroy report the pool busy
	ErrorModeDestroyBusy
	// ErrorModeStatusFail makes status exit non-zero
	ErrorModeStatusFail
	// ErrorModeSSHTimeout drops sessions without answering
	ErrorModeSSHTimeout
)

// ErrorInjector decides which operations fail
type ErrorInjector struct {
	mode         ErrorMode
	operationNum int
	triggerAfter int
	// limit caps injected failures (0 = unlimited)
	limit    int
	failures int
	mu       sync.Mutex
}

// NewErrorInjector creates an error injector from configuration
func NewErrorInjector(config HostConfig) *ErrorInjector {
	return &ErrorInjector{
		mode:         ParseErrorMode(config.ErrorMode),
		triggerAfter: config.ErrorAfterN,
	}
}

// ParseErrorMode converts a string error mode to an ErrorMode
func ParseErrorMode(s string) ErrorMode {
	switch s {
	case "create_fail":
		return ErrorModeCreateFail
	case "destroy_busy":
		return ErrorModeDestroyBusy
	case "status_fail":
		return ErrorModeStatusFail
	case "ssh_timeout":
		return ErrorModeSSHTimeout
	case "none", "":
		return ErrorModeNone
	default:
		klog.Warningf("Unknown error mode %q, using none", s)
		return ErrorModeNone
	}
}

// SetMode switches the injected failure and resets the counter
func (e *ErrorInjector) SetMode(mode ErrorMode, afterN int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.triggerAfter = afterN
	e.operationNum = 0
	e.limit = 0
	e.failures = 0
}

// FailTimes makes the next n operations of mode fail, then recovers
func (e *ErrorInjector) FailTimes(mode ErrorMode, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.triggerAfter = 0
	e.operationNum = 0
	e.limit = n
	e.failures = 0
}

func (e *ErrorInjector) shouldFail(mode ErrorMode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != mode {
		return false
	}
	e.operationNum++
	if e.operationNum <= e.triggerAfter {
		return false
	}
	if e.limit > 0 && e.failures >= e.limit {
		return false
	}
	e.failures++
	return true
}

// ShouldFailSSHConnect returns true if the session should hang up unanswered
func (e *ErrorInjector) ShouldFailSSHConnect() bool {
	return e.shouldFail(ErrorModeSSHTimeout)
}

// ShouldFailCreate returns whether create should fail and its stderr
func (e *ErrorInjector) ShouldFailCreate() (bool, string) {
	if !e.shouldFail(ErrorModeCreateFail) {
		return false, ""
	}
	return true, "invalid vdev specification\nuse '-f' to override the following errors:\n"
}

// ShouldFailDestroy returns whether destroy should fail and its stderr
func (e *ErrorInjector) ShouldFailDestroy(pool string) (bool, string) {
	if !e.shouldFail(ErrorModeDestroyBusy) {
		return false, ""
	}
	return true, "cannot destroy '" + pool + "': pool is busy\n"
}

// ShouldFailStatus returns whether status should fail and its stderr
func (e *ErrorInjector) ShouldFailStatus() (bool, string) {
	if !e.shouldFail(ErrorModeStatusFail) {
		return false, ""
	}
	return true, "cannot get pool status: Resource temporarily unavailable\n"
}

// Reset resets the operation counter for test isolation
func (e *ErrorInjector) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operationNum = 0
	e.failures = 0
}
