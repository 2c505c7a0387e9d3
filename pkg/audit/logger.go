package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Logger writes an audit trail of every destructive array command
type Logger struct {
	counters *Counters
	runID    string
}

// NewLogger creates a logger whose events carry runID
func NewLogger(runID string) *Logger {
	return &Logger{counters: NewCounters(), runID: runID}
}

// severityMapping defines how a severity level maps to klog behavior
type severityMapping struct {
	logFunc func(args ...interface{})
}

var severityMap = map[EventSeverity]severityMapping{
	SeverityInfo:     {logFunc: func(args ...interface{}) { klog.V(2).Info(args...) }},
	SeverityWarning:  {logFunc: klog.Warning},
	SeverityError:    {logFunc: klog.Error},
	SeverityCritical: {logFunc: klog.Error},
}

// LogEvent records and logs an event
func (l *Logger) LogEvent(event *Event) {
	if event.RunID == "" {
		event.RunID = l.runID
	}
	l.counters.RecordEvent(event)

	mapping, ok := severityMap[event.Severity]
	if !ok {
		mapping = severityMap[SeverityInfo]
	}
	mapping.logFunc(formatLogMessage(event))

	// Critical events are also emitted as JSON for log shippers
	if event.Severity == SeverityCritical {
		if jsonBytes, err := json.Marshal(event); err == nil {
			klog.Errorf("CRITICAL_AUDIT_EVENT: %s", string(jsonBytes))
		}
	}
}

func formatLogMessage(event *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[AUDIT] type=%s severity=%s outcome=%s msg=%q",
		event.EventType, event.Severity, event.Outcome, event.Message)

	if event.RunID != "" {
		fmt.Fprintf(&b, " run_id=%s", event.RunID)
	}
	if event.Target != "" {
		fmt.Fprintf(&b, " target=%s", event.Target)
	}
	if event.Pool != "" {
		fmt.Fprintf(&b, " pool=%s", event.Pool)
	}
	if event.Layout != "" {
		fmt.Fprintf(&b, " layout=%s", event.Layout)
	}
	if len(event.Devices) > 0 {
		fmt.Fprintf(&b, " devices=%s", strings.Join(event.Devices, ","))
	}
	if event.Operation != "" {
		fmt.Fprintf(&b, " operation=%s", event.Operation)
	}
	if event.Duration > 0 {
		fmt.Fprintf(&b, " duration_ms=%d", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error=%q", event.Error)
	}

	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, event.Details[k])
	}

	fmt.Fprintf(&b, " timestamp=%s", event.Timestamp.Format("2006-01-02T15:04:05.000Z"))
	return b.String()
}

// OperationLogConfig defines how one array command is audited
type OperationLogConfig struct {
	Operation   string
	SuccessType EventType
	FailureType EventType
	SuccessSev  EventSeverity
	FailureSev  EventSeverity
	SuccessMsg  string
	FailureMsg  string
}

// Operation names, matching the array tool subcommands
const (
	OpCreate  = "create"
	OpOffline = "offline"
	OpReplace = "replace"
	OpScrub   = "scrub"
	OpDestroy = "destroy"
)

var operationConfigs = map[string]OperationLogConfig{
	OpCreate:  {Operation: OpCreate, SuccessType: EventPoolCreate, FailureType: EventPoolCreateFailed, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Pool created", FailureMsg: "Pool creation failed"},
	OpOffline: {Operation: OpOffline, SuccessType: EventDeviceOffline, FailureType: EventDeviceOfflineErr, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Device taken offline", FailureMsg: "Device offline failed"},
	OpReplace: {Operation: OpReplace, SuccessType: EventDeviceReplace, FailureType: EventDeviceReplaceErr, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Device replacement started", FailureMsg: "Device replacement failed"},
	OpScrub:   {Operation: OpScrub, SuccessType: EventPoolScrub, FailureType: EventPoolScrubErr, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Scrub started", FailureMsg: "Scrub failed to start"},
	OpDestroy: {Operation: OpDestroy, SuccessType: EventPoolDestroy, FailureType: EventPoolDestroyErr, SuccessSev: SeverityInfo, FailureSev: SeverityWarning, SuccessMsg: "Pool destroyed", FailureMsg: "Pool destroy failed"},
}

// EventField is a functional option for configuring Event fields
type EventField func(*Event)

// WithDevices sets the device paths a command touched
func WithDevices(devices ...string) EventField {
	return func(e *Event) { e.Devices = append(e.Devices, devices...) }
}

// WithLayout sets the layout descriptor
func WithLayout(layout string) EventField {
	return func(e *Event) { e.Layout = layout }
}

// WithDuration sets operation duration
func WithDuration(d time.Duration) EventField {
	return func(e *Event) { e.Duration = d }
}

// WithError sets error information
func WithError(err error) EventField {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// LogCommand audits one array command. Unknown operations are logged as info.
func (l *Logger) LogCommand(operation, pool, target string, err error, fields ...EventField) {
	config, ok := operationConfigs[operation]
	if !ok {
		config = OperationLogConfig{Operation: operation, SuccessType: EventType(operation), FailureType: EventType(operation + "_failure"),
			SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: operation, FailureMsg: operation + " failed"}
	}

	event := NewEvent(config.SuccessType, config.SuccessSev, config.SuccessMsg).WithOutcome(OutcomeSuccess)
	if err != nil {
		event = NewEvent(config.FailureType, config.FailureSev, config.FailureMsg).WithOutcome(OutcomeFailure)
	}
	event.Operation = config.Operation
	event.WithPool(pool, target)
	for _, field := range fields {
		field(event)
	}
	event.WithError(err)
	l.LogEvent(event)
}

// LogPoolLeaked records that a pool could not be confirmed destroyed
func (l *Logger) LogPoolLeaked(pool, target string, err error) {
	event := NewEvent(EventPoolLeaked, SeverityCritical, "Pool may still exist after cleanup; manual destroy required").
		WithPool(pool, target).
		WithOutcome(OutcomeFailure).
		WithError(err)
	event.Operation = OpDestroy
	l.LogEvent(event)
}

// Snapshot returns a copy of the counters
func (l *Logger) Snapshot() CounterSnapshot {
	return l.counters.Snapshot()
}
