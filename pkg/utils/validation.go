package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Shell metacharacters that could be used for command injection. Commands are
// joined into a single string for the SSH transport, so every argument built
// from configuration or discovered data is checked against this list.
var dangerousCharacters = []string{
	";",    // Command separator
	"|",    // Pipe
	"&",    // Background/AND
	"$",    // Variable expansion
	"`",    // Command substitution
	"(",    // Subshell
	")",    // Subshell
	"<",    // Input redirection
	">",    // Output redirection
	"\n",   // Newline (command separator)
	"\r",   // Carriage return
	"*",    // Glob wildcard
	"?",    // Glob wildcard
	"[",    // Glob wildcard
	"]",    // Glob wildcard
	"'",    // String delimiter
	"\"",   // String delimiter
	"\\",   // Escape character
	"\t",   // Tab
	" ",    // Word splitting
	"\x00", // Null byte
}

// reservedPoolPrefixes are vdev type keywords the array tool refuses as pool name prefixes
var reservedPoolPrefixes = []string{"mirror", "raidz", "draid", "spare"}

// ValidatePoolName checks a pool name against the array tool's naming rules
func ValidatePoolName(name string) error {
	if name == "" {
		return fmt.Errorf("pool name cannot be empty")
	}
	if !PoolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid pool name %q: must start with a letter and contain only letters, digits, '_', '-', ':' or '.'", name)
	}
	for _, reserved := range reservedPoolPrefixes {
		if strings.HasPrefix(name, reserved) {
			return fmt.Errorf("invalid pool name %q: must not begin with reserved word %q", name, reserved)
		}
	}
	if name == "log" {
		return fmt.Errorf("invalid pool name %q: reserved", name)
	}
	if len(name) >= 2 && name[0] == 'c' && name[1] >= '0' && name[1] <= '9' {
		return fmt.Errorf("invalid pool name %q: must not look like a disk name (c[0-9]...)", name)
	}
	return nil
}

// ValidateDeviceID checks a stripped logical-unit identifier
func ValidateDeviceID(id string) error {
	if !DeviceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid device identifier %q: expected 16 hex digits", id)
	}
	return nil
}

// ValidateDevicePath validates that a device path is safe to pass to the array tool.
// It must be absolute, already clean, and free of shell metacharacters.
func ValidateDevicePath(path string) error {
	if path == "" {
		return fmt.Errorf("device path cannot be empty")
	}

	for _, char := range dangerousCharacters {
		if strings.Contains(path, char) {
			return fmt.Errorf("device path contains dangerous character %q: %s", char, path)
		}
	}

	cleanPath := filepath.Clean(path)
	if cleanPath != path {
		return fmt.Errorf("device path contains traversal sequences or unnecessary components: %s (cleaned: %s)", path, cleanPath)
	}

	if !filepath.IsAbs(cleanPath) {
		return fmt.Errorf("device path must be absolute: %s", path)
	}

	return nil
}

// ValidateDevicePathWithBase validates a device path and ensures it's within a specific directory
func ValidateDevicePathWithBase(path, basePath string) error {
	if err := ValidateDevicePath(path); err != nil {
		return err
	}

	cleanBase, err := SanitizeBasePath(basePath)
	if err != nil {
		return err
	}

	if filepath.Dir(path) != cleanBase {
		return fmt.Errorf("device path %s is not directly within %s", path, cleanBase)
	}
	return nil
}

// SanitizeBasePath validates and cleans a configured directory path
func SanitizeBasePath(basePath string) (string, error) {
	if basePath == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	// Check for double slashes BEFORE cleaning (filepath.Clean normalizes them)
	if strings.Contains(basePath, "//") {
		return "", fmt.Errorf("base path contains double slashes: %s", basePath)
	}

	cleanPath := filepath.Clean(basePath)
	if !filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("base path must be absolute: %s", basePath)
	}

	for _, char := range dangerousCharacters {
		if strings.Contains(cleanPath, char) {
			return "", fmt.Errorf("base path contains dangerous character %q: %s", char, cleanPath)
		}
	}

	return cleanPath, nil
}

// ValidateGlob checks a device glob. Wildcards are allowed, other metacharacters are not.
func ValidateGlob(glob string) error {
	if glob == "" {
		return fmt.Errorf("device glob cannot be empty")
	}
	if !strings.HasPrefix(glob, "/") {
		return fmt.Errorf("device glob must be absolute: %s", glob)
	}
	for _, char := range dangerousCharacters {
		switch char {
		case "*", "?", "[", "]":
			continue
		}
		if strings.Contains(glob, char) {
			return fmt.Errorf("device glob contains dangerous character %q: %s", char, glob)
		}
	}
	return nil
}

// IsPathSafe performs a quick safety check on a device path
func IsPathSafe(path string) bool {
	return ValidateDevicePath(path) == nil
}

// ValidateToolName checks a configured binary: a bare name looked up on PATH,
// or an absolute path. Either way it must be free of shell metacharacters.
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return ValidateDevicePath(name)
	}
	for _, char := range dangerousCharacters {
		if strings.Contains(name, char) {
			return fmt.Errorf("tool name contains dangerous character %q: %s", char, name)
		}
	}
	return nil
}
