package audit

import (
	"fmt"
	"sync"
	"time"
)

// Counters tracks audit events in memory for the end-of-run summary
type Counters struct {
	mu       sync.RWMutex
	byType   map[EventType]int64
	severity map[EventSeverity]int64
	failures int64

	lastFailure time.Time
}

// CounterSnapshot is an immutable copy of Counters
type CounterSnapshot struct {
	ByType     map[EventType]int64     `json:"by_type"`
	BySeverity map[EventSeverity]int64 `json:"by_severity"`
	Failures   int64                   `json:"failures"`

	LastFailure time.Time `json:"last_failure"`
}

// NewCounters returns empty counters
func NewCounters() *Counters {
	return &Counters{
		byType:   make(map[EventType]int64),
		severity: make(map[EventSeverity]int64),
	}
}

// RecordEvent counts an event
func (c *Counters) RecordEvent(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byType[event.EventType]++
	c.severity[event.Severity]++
	if event.Outcome == OutcomeFailure {
		c.failures++
		c.lastFailure = event.Timestamp
	}
}

// Reset clears all counters
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType = make(map[EventType]int64)
	c.severity = make(map[EventSeverity]int64)
	c.failures = 0
	c.lastFailure = time.Time{}
}

// Snapshot returns a copy of the counters
func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := CounterSnapshot{
		ByType:      make(map[EventType]int64, len(c.byType)),
		BySeverity:  make(map[EventSeverity]int64, len(c.severity)),
		Failures:    c.failures,
		LastFailure: c.lastFailure,
	}
	for k, v := range c.byType {
		s.ByType[k] = v
	}
	for k, v := range c.severity {
		s.BySeverity[k] = v
	}
	return s
}

// String summarizes the snapshot on one line
func (s CounterSnapshot) String() string {
	return fmt.Sprintf("creates=%d destroys=%d destroy_failures=%d leaked=%d failures=%d",
		s.ByType[EventPoolCreate], s.ByType[EventPoolDestroy], s.ByType[EventPoolDestroyErr],
		s.ByType[EventPoolLeaked], s.Failures)
}
