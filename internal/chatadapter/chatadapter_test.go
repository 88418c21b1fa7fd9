package chatadapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/folder-mcp-daemon/internal/chatadapter"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/orchestrator"
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

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func waitUntilActive(t *testing.T, orch *orchestrator.Orchestrator, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc, ok := orch.Get(path); ok && svc.Status().Status == "active" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("folder never reached active")
}

func TestListFoldersReturnsMonitoredFolders(t *testing.T) {
	dir := t.TempDir()
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)
	require.NoError(t, orch.AddFolder(dir, "test-model"))
	waitUntilActive(t, orch, dir)

	adapter := chatadapter.New(fm, orch)
	abs, _ := filepath.Abs(dir)

	result, err := callTool(t, adapter, "list_folders", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(result), abs)
}

func TestFolderStatusUnknownFolderIsError(t *testing.T) {
	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)
	adapter := chatadapter.New(fm, orch)

	result, err := callTool(t, adapter, "folder_status", map[string]interface{}{"path": "/nowhere"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchFolderReturnsResults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world content"), 0o644))

	fm := fmdm.New(1, func() int64 { return 0 })
	orch := orchestrator.New(fm, func(string) (store.Embedder, error) {
		return &fakeEmbedder{dims: 3}, nil
	}, 4, 3, 5)
	require.NoError(t, orch.AddFolder(dir, "test-model"))
	waitUntilActive(t, orch, dir)

	adapter := chatadapter.New(fm, orch)
	abs, _ := filepath.Abs(dir)

	result, err := callTool(t, adapter, "search_folder", map[string]interface{}{"path": abs, "query": "hello", "k": float64(5)})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(result), "a.txt")
}

// callTool invokes a registered tool's handler directly by name, mirroring
// the teacher's habit of exercising mcpserver handlers without a live
// transport.
func callTool(t *testing.T, adapter *chatadapter.Adapter, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	t.Helper()
	handler := adapter.HandlerFor(name)
	require.NotNil(t, handler, "tool %q not registered", name)
	return handler(context.Background(), toolRequest(args))
}

func textOf(result *mcp.CallToolResult) string {
	var out string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
