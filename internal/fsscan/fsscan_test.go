package fsscan_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/folder-mcp/folder-mcp-daemon/internal/fsscan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanExcludesSidecarAndVCSDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".folder-mcp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".folder-mcp", "fingerprints.db"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))

	paths, err := fsscan.Scan(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep.txt"}, paths)
}

func TestHashContentStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h1, err := fsscan.HashContent(path)
	require.NoError(t, err)
	h2, err := fsscan.HashContent(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))
	h3, err := fsscan.HashContent(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestStatPathMissingFile(t *testing.T) {
	_, err := fsscan.StatPath(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
