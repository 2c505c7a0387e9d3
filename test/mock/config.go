// Package mock provides an SSH server that emulates a storage host running
// the array and inventory tools, for end-to-end tests without real disks.
//
// Environment Variables:
//
// Timing Control:
//   - MOCK_HOST_REALISTIC_TIMING: Enable timing simulation (default: false)
//   - MOCK_HOST_SSH_LATENCY_MS: SSH session latency in ms (default: 100)
//   - MOCK_HOST_SSH_LATENCY_JITTER_MS: Latency jitter range in ms (default: 25)
//   - MOCK_HOST_CREATE_DELAY_MS: Pool create delay in ms (default: 300)
//   - MOCK_HOST_DESTROY_DELAY_MS: Pool destroy delay in ms (default: 200)
//
// Recovery:
//   - MOCK_HOST_RECOVERY_POLLS: Status polls a resilver or scrub stays in progress (default: 2)
//
// Error Injection:
//   - MOCK_HOST_ERROR_MODE: none|create_fail|destroy_busy|status_fail|ssh_timeout
//   - MOCK_HOST_ERROR_AFTER_N: Fail after N matching operations (default: 0 = immediate)
//
// Observability:
//   - MOCK_HOST_ENABLE_HISTORY: Enable command history tracking (default: true)
//   - MOCK_HOST_HISTORY_DEPTH: Maximum history entries (default: 200)
package mock

import (
	"os"
	"strconv"
)

// HostConfig holds configuration for mock storage host behavior
type HostConfig struct {
	// Timing control
	RealisticTiming    bool // MOCK_HOST_REALISTIC_TIMING
	SSHLatencyMs       int  // MOCK_HOST_SSH_LATENCY_MS
	SSHLatencyJitterMs int  // MOCK_HOST_SSH_LATENCY_JITTER_MS
	CreateDelayMs      int  // MOCK_HOST_CREATE_DELAY_MS
	DestroyDelayMs     int  // MOCK_HOST_DESTROY_DELAY_MS

	// RecoveryPolls is how many status calls report work in progress
	RecoveryPolls int // MOCK_HOST_RECOVERY_POLLS

	// Error injection
	ErrorMode   string // MOCK_HOST_ERROR_MODE
	ErrorAfterN int    // MOCK_HOST_ERROR_AFTER_N

	// Observability
	EnableHistory bool // MOCK_HOST_ENABLE_HISTORY
	HistoryDepth  int  // MOCK_HOST_HISTORY_DEPTH
}

// LoadConfigFromEnv loads mock host configuration from environment variables
func LoadConfigFromEnv() HostConfig {
	return HostConfig{
		RealisticTiming:    getEnvBool("MOCK_HOST_REALISTIC_TIMING", false),
		SSHLatencyMs:       getEnvInt("MOCK_HOST_SSH_LATENCY_MS", 100),
		SSHLatencyJitterMs: getEnvInt("MOCK_HOST_SSH_LATENCY_JITTER_MS", 25),
		CreateDelayMs:      getEnvInt("MOCK_HOST_CREATE_DELAY_MS", 300),
		DestroyDelayMs:     getEnvInt("MOCK_HOST_DESTROY_DELAY_MS", 200),
		RecoveryPolls:      getEnvInt("MOCK_HOST_RECOVERY_POLLS", 2),
		ErrorMode:          getEnvString("MOCK_HOST_ERROR_MODE", "none"),
		ErrorAfterN:        getEnvInt("MOCK_HOST_ERROR_AFTER_N", 0),
		EnableHistory:      getEnvBool("MOCK_HOST_ENABLE_HISTORY", true),
		HistoryDepth:       getEnvInt("MOCK_HOST_HISTORY_DEPTH", 200),
	}
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1" || val == "yes"
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvString(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
