// Package utils holds small, self-contained helpers shared across the
// daemon and its control-plane client that don't warrant their own package.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidateSocketPath checks that a control-socket path is safe to bind:
// non-empty, and if something already exists at that path, that it's a
// leftover socket from a previous run rather than an unrelated file this
// daemon would otherwise clobber on bind.
func ValidateSocketPath(path string) error {
	if path == "" {
		return fmt.Errorf("socket path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid socket path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot stat socket path: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path %q exists but is not a socket", path)
	}

	return nil
}
