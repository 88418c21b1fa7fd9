package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/orchestrator"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
	"github.com/folder-mcp/folder-mcp-daemon/internal/store"
)

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) ValidateModel(string) (bool, string) { return true, "" }
func (f *fakeEmbedder) Dimensions() int                      { return f.dims }
func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]store.Embedding, error) {
	out := make([]store.Embedding, len(texts))
	for i := range texts {
		out[i] = store.Embedding{float32(i + 1), 0, 0}
	}
	return out, nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddFolderReachesActive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"))

	waitUntil(t, func() bool {
		svc, ok := orch.Get(dir)
		return ok && svc.Status().Status == "active"
	})
}

func TestAddFolderTwiceIsRejected(t *testing.T) {
	dir := t.TempDir()
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"))
	err := orch.AddFolder(dir, "test-model")
	require.Error(t, err)
	oe, ok := err.(*outcome.Error)
	require.True(t, ok)
	assert.Equal(t, outcome.KindValidation, oe.Kind)
}

func TestRemoveFolderStopsServiceAndKeepsSidecar(t *testing.T) {
	dir := t.TempDir()
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"))
	waitUntil(t, func() bool {
		svc, ok := orch.Get(dir)
		return ok && svc.Status().Status == "active"
	})

	require.NoError(t, orch.RemoveFolder(dir))
	_, ok := orch.Get(dir)
	assert.False(t, ok)

	abs, _ := filepath.Abs(dir)
	_, statErr := os.Stat(filepath.Join(abs, ".folder-mcp"))
	assert.NoError(t, statErr, "sidecar directory must survive folder.remove")
}

func TestRemoveUnknownFolderFails(t *testing.T) {
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	err := orch.RemoveFolder("/nowhere")
	assert.Error(t, err)
}

func TestFMDMReflectsAddedFolder(t *testing.T) {
	dir := t.TempDir()
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"))

	waitUntil(t, func() bool {
		snap := fm.Get()
		return len(snap.Folders) == 1 && snap.Folders[0].Status == "active"
	})

	snap := fm.Get()
	abs, _ := filepath.Abs(dir)
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, abs, snap.Folders[0].Path)
	assert.Equal(t, "test-model", snap.Folders[0].Model)
}

func TestAddFolderRecoversFromCorruptVectorStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	sidecar := config.SidecarPath(abs)
	require.NoError(t, os.MkdirAll(sidecar, 0o755))
	// Plant non-store bytes where the vector store expects a sqlite file.
	require.NoError(t, os.WriteFile(filepath.Join(sidecar, "vectors.db"), []byte("not a database"), 0o644))

	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"), "corrupted store must not crash folder.add")

	waitUntil(t, func() bool {
		svc, ok := orch.Get(dir)
		return ok && svc.Status().Status == "active"
	})

	snap := fm.Get()
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, "active", snap.Folders[0].Status)
	assert.Equal(t, 1, snap.Folders[0].FileCount, "file must have been re-embedded from disk")
}

func TestWatcherCreatedFileTriggersTargetedIndexing(t *testing.T) {
	dir := t.TempDir()
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)

	require.NoError(t, orch.AddFolder(dir, "test-model"))
	waitUntil(t, func() bool {
		svc, ok := orch.Get(dir)
		return ok && svc.Status().Status == "active"
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh content"), 0o644))

	waitUntil(t, func() bool {
		snap := fm.Get()
		return len(snap.Folders) == 1 && snap.Folders[0].Status == "active" && snap.Folders[0].Percentage == 100
	})
}
