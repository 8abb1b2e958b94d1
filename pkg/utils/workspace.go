package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureWorkspaceDir creates the workspace directory if missing and returns
// its absolute path. Agents resolve relative tool paths against it.
func EnsureWorkspaceDir(path string) (string, error) {
	if path == "" {
		path = "./workspace"
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path '%s': %w", path, err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory at '%s': %w", abs, err)
	}

	return abs, nil
}
