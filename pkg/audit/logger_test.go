package audit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventPoolCreate, SeverityInfo, "Test message")

	if event.EventType != EventPoolCreate {
		t.Errorf("Expected EventType %s, got %s", EventPoolCreate, event.EventType)
	}
	if event.Severity != SeverityInfo {
		t.Errorf("Expected Severity %s, got %s", SeverityInfo, event.Severity)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected Timestamp to be set, got zero time")
	}
	if event.Details == nil {
		t.Error("Expected Details map to be initialized")
	}
}

func TestEvent_WithMethods(t *testing.T) {
	event := NewEvent(EventDeviceReplace, SeverityInfo, "Test").
		WithOutcome(OutcomeSuccess).
		WithPool("benchpool", "storage01").
		WithError(errors.New("boom")).
		WithDetail("new_device", "draid2-0-0")

	if event.Outcome != OutcomeSuccess {
		t.Errorf("Expected Outcome %s, got %s", OutcomeSuccess, event.Outcome)
	}
	if event.Pool != "benchpool" || event.Target != "storage01" {
		t.Errorf("WithPool failed: got pool=%s, target=%s", event.Pool, event.Target)
	}
	if event.Error != "boom" {
		t.Errorf("Expected Error 'boom', got '%s'", event.Error)
	}
	if event.Details["new_device"] != "draid2-0-0" {
		t.Errorf("Expected detail new_device, got %v", event.Details)
	}

	event.WithError(nil)
	if event.Error != "boom" {
		t.Error("WithError(nil) should not clear an existing error")
	}
}

func TestFormatLogMessage(t *testing.T) {
	event := NewEvent(EventPoolCreate, SeverityInfo, "Pool created").
		WithOutcome(OutcomeSuccess).
		WithPool("benchpool", "local")
	event.RunID = "1a2b3c4d"
	event.Layout = "draid2:8c:1s:5d"
	event.Devices = []string{"/dev/disk/by-id/a", "/dev/disk/by-id/b"}
	event.Duration = 1500 * time.Millisecond
	event.WithDetail("zeta", "last").WithDetail("alpha", "first")

	msg := formatLogMessage(event)

	for _, want := range []string{
		"[AUDIT] type=pool_create severity=info outcome=success",
		`msg="Pool created"`,
		"run_id=1a2b3c4d",
		"target=local",
		"pool=benchpool",
		"layout=draid2:8c:1s:5d",
		"devices=/dev/disk/by-id/a,/dev/disk/by-id/b",
		"duration_ms=1500",
		"timestamp=",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}

	if strings.Index(msg, "alpha=") > strings.Index(msg, "zeta=") {
		t.Errorf("details should be sorted by key: %s", msg)
	}
}

func TestLogCommand(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantType  EventType
		wantSev   EventSeverity
		wantOut   EventOutcome
	}{
		{"create success", OpCreate, nil, EventPoolCreate, SeverityInfo, OutcomeSuccess},
		{"create failure", OpCreate, errors.New("exit 1"), EventPoolCreateFailed, SeverityError, OutcomeFailure},
		{"offline success", OpOffline, nil, EventDeviceOffline, SeverityInfo, OutcomeSuccess},
		{"replace failure", OpReplace, errors.New("no such device"), EventDeviceReplaceErr, SeverityError, OutcomeFailure},
		{"scrub success", OpScrub, nil, EventPoolScrub, SeverityInfo, OutcomeSuccess},
		{"destroy failure", OpDestroy, errors.New("pool is busy"), EventPoolDestroyErr, SeverityWarning, OutcomeFailure},
		{"unknown operation", "clear", nil, EventType("clear"), SeverityInfo, OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger("run-1")
			logger.LogCommand(tt.operation, "benchpool", "local", tt.err,
				WithDevices("/dev/disk/by-id/a"), WithDuration(time.Second))

			snap := logger.Snapshot()
			if snap.ByType[tt.wantType] != 1 {
				t.Errorf("expected one %s event, got %v", tt.wantType, snap.ByType)
			}
			if snap.BySeverity[tt.wantSev] != 1 {
				t.Errorf("expected one %s event, got %v", tt.wantSev, snap.BySeverity)
			}
			wantFailures := int64(0)
			if tt.wantOut == OutcomeFailure {
				wantFailures = 1
			}
			if snap.Failures != wantFailures {
				t.Errorf("expected %d failures, got %d", wantFailures, snap.Failures)
			}
		})
	}
}

func TestLogPoolLeaked(t *testing.T) {
	logger := NewLogger("run-2")
	logger.LogPoolLeaked("benchpool", "storage01", errors.New("connection reset"))

	snap := logger.Snapshot()
	if snap.ByType[EventPoolLeaked] != 1 {
		t.Errorf("expected pool_leaked event, got %v", snap.ByType)
	}
	if snap.BySeverity[SeverityCritical] != 1 {
		t.Errorf("expected critical severity, got %v", snap.BySeverity)
	}
	if snap.LastFailure.IsZero() {
		t.Error("expected LastFailure to be set")
	}
	if !strings.Contains(snap.String(), "leaked=1") {
		t.Errorf("unexpected summary %q", snap.String())
	}
}

func TestCountersSnapshotIsCopy(t *testing.T) {
	c := NewCounters()
	c.RecordEvent(NewEvent(EventPoolDestroy, SeverityInfo, "Pool destroyed").WithOutcome(OutcomeSuccess))

	snap := c.Snapshot()
	snap.ByType[EventPoolDestroy] = 42

	if got := c.Snapshot().ByType[EventPoolDestroy]; got != 1 {
		t.Errorf("mutating a snapshot changed the counters: got %d", got)
	}

	c.Reset()
	if got := c.Snapshot().ByType[EventPoolDestroy]; got != 0 {
		t.Errorf("expected 0 after reset, got %d", got)
	}
}

func TestLogEventFillsRunID(t *testing.T) {
	logger := NewLogger("abcd1234")
	event := NewEvent(EventPoolScrub, SeverityInfo, "Scrub started")
	logger.LogEvent(event)
	if event.RunID != "abcd1234" {
		t.Errorf("expected run id to be filled, got %q", event.RunID)
	}
}
