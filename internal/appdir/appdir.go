// Package appdir provides platform-native directory management for Parley.
// It handles locating and creating the Parley data directory, which stores
// rotated logs (logs/ subdirectory) and conversation exports (exports/
// subdirectory).
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// ParleyDirEnv is the environment variable to override the Parley directory.
	ParleyDirEnv = "PARLEY_DIR"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"

	// ExportsDirName is the name of the exports subdirectory.
	ExportsDirName = "exports"

	// LogFileName is the default log file name.
	LogFileName = "parley.log"
)

var (
	// cachedDir stores the resolved Parley directory to avoid repeated lookups.
	cachedDir string
	// mu protects cachedDir.
	mu sync.RWMutex
)

// Dir returns the Parley data directory path.
// The directory is determined in the following order:
//  1. PARLEY_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Parley
//     - Linux: $XDG_DATA_HOME/parley or ~/.local/share/parley
//     - Windows: %APPDATA%\Parley
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the Parley directory path.
func resolveDir() (string, error) {
	// Check environment variable first
	if envDir := os.Getenv(ParleyDirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Parley"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Parley"), nil

	default:
		// Linux and other Unix-like systems: $XDG_DATA_HOME/parley or
		// ~/.local/share/parley
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "parley"), nil
	}
}

// EnsureDir creates the Parley data directory if it doesn't exist.
// It also creates the logs and exports subdirectories.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Parley directory %s: %w", dir, err)
	}

	for _, sub := range []string{LogsDirName, ExportsDirName} {
		subDir := filepath.Join(dir, sub)
		if err := os.MkdirAll(subDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory %s: %w", sub, subDir, err)
		}
	}

	return nil
}

// LogsDir returns the full path to the logs directory.
func LogsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// DefaultLogPath returns the full path to the default log file.
func DefaultLogPath() (string, error) {
	logs, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logs, LogFileName), nil
}

// ExportsDir returns the full path to the exports directory.
func ExportsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ExportsDirName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
