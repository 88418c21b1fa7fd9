// Package store holds the three domain capabilities the lifecycle service
// drives during indexing (§4.5, §6): chunking, embedding, and the
// per-folder vector store. All three are adapted from the teacher's
// note-indexing pipeline (pkg/embeddings), generalized from
// vault-relative note paths to arbitrary file paths within a watched
// folder.
package store

// Embedding is a dense vector representation of a chunk of text.
type Embedding []float32

// ChunkInput is one chunk of a file's content, ready to embed.
type ChunkInput struct {
	Index      int
	Text       string
	Breadcrumb string
	Heading    string
	Hash       string
}

// SearchResult is one scored chunk returned by a vector-store search.
type SearchResult struct {
	Path       string
	ChunkIndex int
	Breadcrumb string
	Heading    string
	Score      float64
}
