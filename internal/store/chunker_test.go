package store_test

import (
	"strings"
	"testing"

	"github.com/folder-mcp/folder-mcp-daemon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChunkerMarkdownHeadings(t *testing.T) {
	content := "# Title\n\nIntro text.\n\n## Section A\n\n" + strings.Repeat("word ", 100) + "\n\n## Section B\n\nMore text here."
	chunks, err := store.DefaultChunker{}.Chunk("notes/doc.md", []byte(content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Hash)
	}
}

func TestDefaultChunkerPlainTextFallback(t *testing.T) {
	content := strings.Repeat("x", 50)
	chunks, err := store.DefaultChunker{}.Chunk("data/file.csv", []byte(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "data/file.csv")
}

func TestDefaultChunkerEmptyContent(t *testing.T) {
	chunks, err := store.DefaultChunker{}.Chunk("data/empty.txt", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDefaultChunkerLargePlainTextSplitsWithOverlap(t *testing.T) {
	content := strings.Repeat("a", 5000)
	chunks, err := store.DefaultChunker{}.Chunk("big.log", []byte(content))
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
}
