package audit

import (
	"time"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome represents the outcome of an audited operation
type EventOutcome string

const (
	OutcomeRequest EventOutcome = "request"
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// EventType identifies what happened
type EventType string

const (
	EventPoolCreate       EventType = "pool_create"
	EventPoolCreateFailed EventType = "pool_create_failure"
	EventDeviceOffline    EventType = "device_offline"
	EventDeviceOfflineErr EventType = "device_offline_failure"
	EventDeviceReplace    EventType = "device_replace"
	EventDeviceReplaceErr EventType = "device_replace_failure"
	EventPoolScrub        EventType = "pool_scrub"
	EventPoolScrubErr     EventType = "pool_scrub_failure"
	EventPoolDestroy      EventType = "pool_destroy"
	EventPoolDestroyErr   EventType = "pool_destroy_failure"

	// EventPoolLeaked means a pool may still exist after cleanup gave up
	EventPoolLeaked EventType = "pool_leaked"
)

// Event is one destructive action against the storage host
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Severity  EventSeverity `json:"severity"`
	Outcome   EventOutcome  `json:"outcome"`
	Message   string        `json:"message"`

	Target  string   `json:"target,omitempty"`
	Pool    string   `json:"pool,omitempty"`
	Devices []string `json:"devices,omitempty"`
	Layout  string   `json:"layout,omitempty"`
	RunID   string   `json:"run_id,omitempty"`

	Operation string            `json:"operation,omitempty"`
	Duration  time.Duration     `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, severity EventSeverity, message string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		Details:   make(map[string]string),
	}
}

// WithOutcome sets the outcome for the event
func (e *Event) WithOutcome(outcome EventOutcome) *Event {
	e.Outcome = outcome
	return e
}

// WithPool sets the pool and host the command ran against
func (e *Event) WithPool(pool, target string) *Event {
	e.Pool = pool
	e.Target = target
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetail adds a custom detail field
func (e *Event) WithDetail(key, value string) *Event {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
