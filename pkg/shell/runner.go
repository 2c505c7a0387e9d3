package shell

import (
	"context"
	"strings"
	"time"
)

// Result captures one command invocation. It is populated even when the
// command exits non-zero so callers can inspect partial output.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes an external command and captures its output.
//
// A non-zero exit returns the populated Result together with a
// *utils.CommandError. Any other error means the command could not be run
// at all (tool missing, transport down, context cancelled).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	// Target names where commands run ("local" or user@host:port)
	Target() string
	Close() error
}

// Quote returns s quoted for a POSIX shell when it contains anything outside
// a conservative safe set.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafeRune(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '-', '_', '.', '/', ':', '=', ',', '@', '+', '%':
		return true
	}
	return false
}

// Join renders a command line for logging, reports and the SSH transport.
func Join(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(name))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}
