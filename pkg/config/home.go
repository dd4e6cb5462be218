package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "AXRUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the axrunner home directory: $AXRUNNER_HOME, else
// ~/.axrunner, else the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetDataDir returns <home>/data.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// GetSnapshotsDir returns <home>/snapshots, used when no snapshot is configured.
func GetSnapshotsDir() string {
	return filepath.Join(GetHome(), "snapshots")
}

// DefaultTelemetryDB is where `stats` looks when telemetry.sqlite is unset.
func DefaultTelemetryDB() string {
	return filepath.Join(GetDataDir(), "telemetry.db")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return filepath.Clean(env)
	}
	if user, err := os.UserHomeDir(); err == nil && user != "" {
		return filepath.Join(user, ".axrunner")
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
