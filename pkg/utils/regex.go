package utils

import (
	"regexp"
)

// Patterns shared by the catalog, the status parser and input validation.
// All patterns are anchored or use negated/bounded classes; none nest quantifiers.
var (
	// PoolNamePattern matches pool names the array tool accepts: a leading letter,
	// then letters, digits, underscore, hyphen, colon or period.
	PoolNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]{0,254}$`)

	// DeviceIDPattern matches a logical-unit identifier once its 0x prefix is stripped
	DeviceIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

	// PartitionNamePattern matches raw device names that carry a partition number
	PartitionNamePattern = regexp.MustCompile(`[0-9]`)

	// SSHUserPattern matches plausible remote user names
	SSHUserPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

// Status output parsing patterns, applied line by line to `zpool status`
var (
	// StatusFieldPattern matches "  state: ONLINE" style header fields
	StatusFieldPattern = regexp.MustCompile(`^\s*(pool|state|status|action|scan|errors|see):\s?(.*)$`)

	// ConfigRowPattern matches a row of the config table: name, state and counters
	ConfigRowPattern = regexp.MustCompile(`^(\s+)(\S+)\s+([A-Z]+)(?:\s+([0-9][0-9.]*[KMGTP]?)\s+([0-9][0-9.]*[KMGTP]?)\s+([0-9][0-9.]*[KMGTP]?))?(?:\s+(.*))?$`)

	// ScanInProgressPattern matches the scan field while work is running, with or
	// without the parenthesised vdev a dRAID rebuild names
	ScanInProgressPattern = regexp.MustCompile(`^(resilver|rebuild|scrub)(?:\s+\([^)]*\))?\s+in progress`)
)
