package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a fresh identifier for one benchmark invocation
func NewRunID() string {
	return uuid.New().String()
}

// ShortRunID returns the first eight hex digits of a run id
func ShortRunID(runID string) string {
	s := strings.ReplaceAll(runID, "-", "")
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// GeneratePoolName derives a per-run pool name so invocations on different
// hosts sharing a report directory never collide.
func GeneratePoolName(base, runID string) (string, error) {
	name := fmt.Sprintf("%s-%s", base, ShortRunID(runID))
	if err := ValidatePoolName(name); err != nil {
		return "", err
	}
	return name, nil
}
