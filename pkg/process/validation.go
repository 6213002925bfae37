package process

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
)

// ValidateExecutable resolves path the way exec does and checks it can be run
func ValidateExecutable(path string) (string, error) {
	if path == "" {
		return "", errors.NewValidationError("executable path is required", nil)
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", errors.NewValidationError("executable not found: "+path, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", errors.NewIOError("executable not accessible: "+resolved, err)
	}
	if info.IsDir() {
		return "", errors.NewValidationError("executable is a directory: "+resolved, nil)
	}

	if !filepath.IsAbs(resolved) {
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}
	}

	return resolved, nil
}
