package zpool

import (
	"strings"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// Activity is what the pool is doing according to its status output
type Activity string

const (
	ActivityUnknown    Activity = "unknown"
	ActivityIdle       Activity = "idle"
	ActivityRecovering Activity = "recovering"
	ActivityScrubbing  Activity = "scrubbing"
	ActivityDegraded   Activity = "degraded"
)

func (a Activity) String() string { return string(a) }

// InProgress reports whether a resilver or scrub is running
func (a Activity) InProgress() bool {
	return a == ActivityRecovering || a == ActivityScrubbing
}

// Pool and vdev health states as printed by the tool
const (
	StateOnline   = "ONLINE"
	StateDegraded = "DEGRADED"
	StateFaulted  = "FAULTED"
	StateOffline  = "OFFLINE"
	StateUnavail  = "UNAVAIL"
	StateRemoved  = "REMOVED"
)

// VdevStatus is one row of the config table
type VdevStatus struct {
	Name  string
	State string
	Read  string
	Write string
	Cksum string
	// Depth is the nesting level below the pool row (pool = 0)
	Depth int
	Note  string
}

// Status is the parsed form of `zpool status <pool>`
type Status struct {
	Pool     string
	State    string
	Status   string
	Action   string
	Scan     string
	Errors   string
	Vdevs    []VdevStatus
	Activity Activity
	Raw      string
}

// Find returns the config row named name
func (s Status) Find(name string) (VdevStatus, bool) {
	for _, v := range s.Vdevs {
		if v.Name == name {
			return v, true
		}
	}
	return VdevStatus{}, false
}

// ParseStatus parses status output. It never fails: fields that are missing
// stay empty and the activity falls back to ActivityUnknown.
func ParseStatus(raw string) Status {
	s := Status{Raw: raw}

	var (
		field      *string
		inConfig   bool
		baseIndent = -1
	)

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "config:" {
			inConfig = true
			field = nil
			continue
		}

		if m := utils.StatusFieldPattern.FindStringSubmatch(line); m != nil {
			inConfig = false
			field = s.fieldFor(m[1])
			if field != nil {
				*field = strings.TrimSpace(m[2])
			}
			continue
		}

		if inConfig {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "NAME") {
				baseIndent = indentWidth(line)
				continue
			}
			if row, ok := parseConfigRow(line, baseIndent); ok {
				s.Vdevs = append(s.Vdevs, row)
			}
			continue
		}

		// Continuation of a multi-line header field
		if field != nil && trimmed != "" && indentWidth(line) > 0 {
			*field += " " + trimmed
			continue
		}
		if trimmed == "" {
			field = nil
		}
	}

	s.Activity = activityOf(s)
	return s
}

func (s *Status) fieldFor(name string) *string {
	switch name {
	case "pool":
		return &s.Pool
	case "state":
		return &s.State
	case "status":
		return &s.Status
	case "action":
		return &s.Action
	case "scan":
		return &s.Scan
	case "errors":
		return &s.Errors
	}
	return nil
}

func parseConfigRow(line string, baseIndent int) (VdevStatus, bool) {
	m := utils.ConfigRowPattern.FindStringSubmatch(line)
	if m == nil {
		// Section headers such as "spares" or "logs" carry no state
		name := strings.TrimSpace(line)
		if name == "" || strings.ContainsAny(name, " \t") {
			return VdevStatus{}, false
		}
		return VdevStatus{Name: name, Depth: depthOf(indentWidth(line), baseIndent)}, true
	}
	return VdevStatus{
		Name:  m[2],
		State: m[3],
		Read:  m[4],
		Write: m[5],
		Cksum: m[6],
		Depth: depthOf(len(expandTabs(m[1])), baseIndent),
		Note:  strings.TrimSpace(m[7]),
	}, true
}

func depthOf(indent, base int) int {
	if base < 0 || indent <= base {
		return 0
	}
	return (indent - base) / 2
}

func indentWidth(line string) int {
	expanded := expandTabs(line)
	return len(expanded) - len(strings.TrimLeft(expanded, " "))
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "        ")
}

// activityOf prefers an in-progress scan over the pool health state: a pool
// resilvering onto a spare is DEGRADED until the resilver completes.
func activityOf(s Status) Activity {
	scan := strings.ToLower(s.Scan)
	if m := utils.ScanInProgressPattern.FindStringSubmatch(scan); m != nil {
		if m[1] == "scrub" {
			return ActivityScrubbing
		}
		return ActivityRecovering
	}

	// Output without a scan field still carries the plain phrases
	raw := strings.ToLower(s.Raw)
	switch {
	case s.Scan == "" && strings.Contains(raw, "resilver in progress"):
		return ActivityRecovering
	case s.Scan == "" && strings.Contains(raw, "scrub in progress"):
		return ActivityScrubbing
	}

	switch strings.ToUpper(s.State) {
	case StateDegraded, StateFaulted, StateUnavail:
		return ActivityDegraded
	case StateOnline:
		return ActivityIdle
	}
	return ActivityUnknown
}
