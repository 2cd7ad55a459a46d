package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.codelens/logs, falling back to the temp
// directory when the home directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codelens", "logs")
	}
	return filepath.Join(home, ".codelens", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "codelens.log")
}
