package daemonproc_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/daemonproc"
)

func withIsolatedConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvUserConfigDir, dir)
	return dir
}

func TestAcquireWritesPIDFile(t *testing.T) {
	withIsolatedConfigDir(t)

	h, err := daemonproc.Acquire(false, 4242)
	require.NoError(t, err)
	defer h.Release()

	path, err := config.PIDFilePath()
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242", string(content))
}

func TestAcquireFailsWhenAnotherLiveDaemonHoldsThePIDFileWithoutRestart(t *testing.T) {
	withIsolatedConfigDir(t)

	path, err := config.PIDFilePath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err = daemonproc.Acquire(false, 9999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestAcquireSucceedsWhenStalePIDFileNamesADeadProcess(t *testing.T) {
	withIsolatedConfigDir(t)

	path, err := config.PIDFilePath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	// PID 999999 is extremely unlikely to be alive in any test environment.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	h, err := daemonproc.Acquire(false, 4242)
	require.NoError(t, err)
	defer h.Release()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242", string(content))
}

func TestReleaseRemovesPIDFile(t *testing.T) {
	withIsolatedConfigDir(t)

	h, err := daemonproc.Acquire(false, 4242)
	require.NoError(t, err)

	path, err := config.PIDFilePath()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReleaseOnNilHandleIsNoop(t *testing.T) {
	var h *daemonproc.Handle
	assert.NoError(t, h.Release())
}
