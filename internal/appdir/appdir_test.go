package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	// Save original value
	original := os.Getenv(ParleyDirEnv)
	defer func() {
		os.Setenv(ParleyDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	// Set custom path via env var
	customDir := t.TempDir()
	os.Setenv(ParleyDirEnv, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	// Save original value
	original := os.Getenv(ParleyDirEnv)
	defer func() {
		os.Setenv(ParleyDirEnv, original)
		ResetCache()
	}()

	ResetCache()
	os.Unsetenv(ParleyDirEnv)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if !strings.Contains(strings.ToLower(dir), "parley") {
		t.Errorf("Dir() = %q, expected path to contain 'parley'", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	// Save original value
	original := os.Getenv(ParleyDirEnv)
	defer func() {
		os.Setenv(ParleyDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	// Use temp dir
	tmpDir := filepath.Join(t.TempDir(), "parley-test")
	os.Setenv(ParleyDirEnv, tmpDir)

	// Ensure the directory doesn't exist yet
	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Fatalf("temp dir should not exist initially")
	}

	// Call EnsureDir
	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}

	// Verify main directory exists
	info, err := os.Stat(tmpDir)
	if err != nil {
		t.Fatalf("main dir does not exist after EnsureDir(): %v", err)
	}
	if !info.IsDir() {
		t.Error("main path is not a directory")
	}

	// Verify subdirectories exist
	for _, sub := range []string{LogsDirName, ExportsDirName} {
		subDir := filepath.Join(tmpDir, sub)
		info, err = os.Stat(subDir)
		if err != nil {
			t.Fatalf("%s dir does not exist after EnsureDir(): %v", sub, err)
		}
		if !info.IsDir() {
			t.Errorf("%s path is not a directory", sub)
		}
	}
}

func TestDefaultLogPath(t *testing.T) {
	// Save original value
	original := os.Getenv(ParleyDirEnv)
	defer func() {
		os.Setenv(ParleyDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(ParleyDirEnv, customDir)

	logPath, err := DefaultLogPath()
	if err != nil {
		t.Fatalf("DefaultLogPath() failed: %v", err)
	}

	expected := filepath.Join(customDir, LogsDirName, LogFileName)
	if logPath != expected {
		t.Errorf("DefaultLogPath() = %q, want %q", logPath, expected)
	}
}

func TestExportsDir(t *testing.T) {
	// Save original value
	original := os.Getenv(ParleyDirEnv)
	defer func() {
		os.Setenv(ParleyDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(ParleyDirEnv, customDir)

	exportsDir, err := ExportsDir()
	if err != nil {
		t.Fatalf("ExportsDir() failed: %v", err)
	}

	expected := filepath.Join(customDir, ExportsDirName)
	if exportsDir != expected {
		t.Errorf("ExportsDir() = %q, want %q", exportsDir, expected)
	}
}
