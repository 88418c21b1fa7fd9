// Package config resolves the daemon's filesystem layout and runtime
// settings. The user-config-directory resolution follows the teacher's
// pkg/config/cli-path.go pattern (a swappable os.UserConfigDir seam for
// tests); the persisted folders list follows pkg/obsidian/cli_config.go's
// hand-rolled JSON read/write, since it is a small fixed wire format rather
// than general configuration.
package config

import (
	"os"
	"path/filepath"
)

// UserConfigDirectory is a seam over os.UserConfigDir so tests can stub it.
var UserConfigDirectory = os.UserConfigDir

const (
	daemonConfigDirName = "folder-mcp"
	pidFileName         = "daemon.pid"
	foldersFileName     = "folders.json"
	daemonConfigFile    = "daemon.yaml"

	// EnvUserConfigDir overrides the resolved user config directory so test
	// harnesses can point the daemon at a throw-away location.
	EnvUserConfigDir = "FOLDER_MCP_USER_CONFIG_DIR"
	// EnvDebounceMs overrides the file-watcher debounce window.
	EnvDebounceMs = "FOLDER_MCP_FILE_CHANGE_DEBOUNCE_MS"
	// EnvLogLevel selects the logrus level: debug|info|warn|error|fatal.
	EnvLogLevel = "FOLDER_MCP_LOG_LEVEL"
	// EnvDevelopmentEnabled unlocks verbose protocol logging and other
	// development-only behaviours.
	EnvDevelopmentEnabled = "FOLDER_MCP_DEVELOPMENT_ENABLED"
	// EnvDrainTimeoutMs bounds the control channel's graceful HTTP shutdown.
	// Lifecycle services are stopped without a time limit.
	EnvDrainTimeoutMs = "FOLDER_MCP_DRAIN_TIMEOUT_MS"

	// SidecarDirName is the per-folder directory holding the fingerprint
	// index, vector store, and diagnostics.
	SidecarDirName = ".folder-mcp"
)

// Dir returns the daemon's user config directory, honoring EnvUserConfigDir.
func Dir() (string, error) {
	if override := os.Getenv(EnvUserConfigDir); override != "" {
		return override, nil
	}
	base, err := UserConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, daemonConfigDirName), nil
}

// PIDFilePath returns the path to the daemon's PID file.
func PIDFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pidFileName), nil
}

// FoldersFilePath returns the path to the persisted folders list.
func FoldersFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, foldersFileName), nil
}

// DaemonConfigFilePath returns the path to the optional YAML runtime config.
func DaemonConfigFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, daemonConfigFile), nil
}

// SidecarPath returns the sidecar directory for a watched folder.
func SidecarPath(folderPath string) string {
	return filepath.Join(folderPath, SidecarDirName)
}

// EnsureDir creates the user config directory if it does not exist.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
