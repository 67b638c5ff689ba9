package utils

import (
	"os"
	"path/filepath"
)

// FileExists checks if a file exists (and is not a directory).
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureDir creates a directory (and parents) if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// AbsPath returns the absolute form of path.
func AbsPath(path string) (string, error) {
	return filepath.Abs(path)
}
