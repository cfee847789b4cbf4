package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MemoryPath is the in-memory database path understood by the sqlite driver.
// It bypasses filesystem validation.
const MemoryPath = ":memory:"

// ValidateDatabasePath validates that a database file path is safe: non-empty,
// no NUL bytes, no directory traversal after cleaning. Absolute paths are
// allowed since database files commonly live outside the working directory.
func ValidateDatabasePath(path string) error {
	if path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if path == MemoryPath {
		return nil
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("database path contains NUL byte")
	}

	// Clean the path to resolve any .. or . components
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}

// ValidatePathWithBase validates a relative path against a base directory
func ValidatePathWithBase(path, baseDir string) error {
	if err := ValidateDatabasePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed under base directory: %s", path)
	}

	fullPath := filepath.Clean(filepath.Join(baseDir, path))
	cleanBase := filepath.Clean(baseDir)

	// Ensure the resolved path is still within the base directory
	if !strings.HasPrefix(fullPath, cleanBase) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}
