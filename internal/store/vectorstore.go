package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// VectorStore is the per-folder embedding store capability (§4.1): one
// instance is scoped to exactly one folder, so paths need not be
// disambiguated by a folder column. Grounded on the teacher's
// pkg/embeddings/sqlite.Store, generalized from note IDs to file paths and
// chunk indices.
type VectorStore interface {
	// Upsert replaces all chunk embeddings for path in one transaction.
	Upsert(ctx context.Context, path string, chunks []ChunkInput, vecs []Embedding) error
	// Remove deletes every chunk embedding for path.
	Remove(ctx context.Context, path string) error
	// Search performs a similarity search across every stored chunk.
	Search(ctx context.Context, query Embedding, k int) ([]SearchResult, error)
	IsReady() bool
	Close() error
}

// SQLiteStore implements VectorStore backed by modernc.org/sqlite.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// OpenVectorStore opens (or creates) the per-folder vector store at path. If
// the existing file holds non-store bytes or otherwise fails schema
// initialisation — the corruption-recovery contract in §4.1/§7 (Scenario
// E) — it is removed and reinitialised from a clean state, mirroring
// fingerprint.Open, and recovered is true so the caller can force a full
// re-scan instead of reporting the folder active with an empty store.
func OpenVectorStore(path string, dimensions int) (s *SQLiteStore, recovered bool, err error) {
	if path == "" {
		return nil, false, outcome.Validation("vector store path is required")
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		return nil, false, outcome.TransientIO(mkErr, "create vector store directory %s", filepath.Dir(path))
	}

	db, openErr := sql.Open("sqlite", path)
	if openErr != nil {
		return nil, false, outcome.StoreCorruption(openErr, "open vector store %s", path)
	}
	s = &SQLiteStore{db: db, dimensions: dimensions}
	if schemaErr := s.ensureSchema(context.Background()); schemaErr != nil {
		_ = db.Close()
		// sql.Open is lazy; corruption only surfaces once ensureSchema runs
		// its first statement ("file is not a database"). Treat it the same
		// way the fingerprint store treats an unreadable file: remove it and
		// start clean.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, false, outcome.StoreCorruption(schemaErr, "vector store %s unreadable and could not be removed", path)
		}
		db, openErr = sql.Open("sqlite", path)
		if openErr != nil {
			return nil, false, outcome.StoreCorruption(openErr, "vector store %s could not be reinitialised", path)
		}
		s = &SQLiteStore{db: db, dimensions: dimensions}
		if schemaErr2 := s.ensureSchema(context.Background()); schemaErr2 != nil {
			_ = db.Close()
			return nil, false, outcome.StoreCorruption(schemaErr2, "vector store %s schema init failed after recovery", path)
		}
		recovered = true
	}
	return s, recovered, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dimensions INTEGER,
			schema_version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			id   INTEGER PRIMARY KEY,
			path TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			id           INTEGER PRIMARY KEY,
			file_id      INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_index  INTEGER NOT NULL,
			breadcrumb   TEXT,
			heading      TEXT,
			content_hash TEXT NOT NULL,
			embedding    BLOB NOT NULL,
			dimensions   INTEGER NOT NULL,
			created_at   INTEGER NOT NULL,
			UNIQUE(file_id, chunk_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_file_id ON chunk_embeddings(file_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_meta (id, dimensions, schema_version, created_at)
		VALUES (1, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.dimensions, time.Now().Unix())
	return err
}

// IsReady reports whether the store has a live connection.
func (s *SQLiteStore) IsReady() bool {
	if s == nil || s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) fileRowID(ctx context.Context, tx *sql.Tx, path string, create bool) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if !create {
		return 0, sql.ErrNoRows
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO files (path) VALUES (?)`, path)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Upsert replaces all chunk embeddings for path in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, path string, chunks []ChunkInput, vecs []Embedding) error {
	if len(chunks) != len(vecs) {
		return outcome.Validation("chunks/embeddings length mismatch: %d vs %d", len(chunks), len(vecs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return outcome.TransientIO(err, "begin vector upsert for %s", path)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var rowID int64
	rowID, err = s.fileRowID(ctx, tx, path, true)
	if err != nil {
		return outcome.TransientIO(err, "resolve file row for %s", path)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE file_id = ?`, rowID); err != nil {
		return outcome.TransientIO(err, "clear stale chunks for %s", path)
	}

	now := time.Now().Unix()
	for i, chunk := range chunks {
		vec := vecs[i]
		if len(vec) == 0 {
			continue
		}
		if s.dimensions > 0 && len(vec) != s.dimensions {
			err = outcome.Validation("chunk dimension mismatch for %s: have %d want %d", path, len(vec), s.dimensions)
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO chunk_embeddings (file_id, chunk_index, breadcrumb, heading, content_hash, embedding, dimensions, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rowID, chunk.Index, chunk.Breadcrumb, chunk.Heading, chunk.Hash, embedToBytes(vec), len(vec), now); err != nil {
			return outcome.TransientIO(err, "insert chunk %d for %s", chunk.Index, path)
		}
	}

	if err = tx.Commit(); err != nil {
		return outcome.TransientIO(err, "commit vector upsert for %s", path)
	}
	if s.dimensions == 0 && len(vecs) > 0 && len(vecs[0]) > 0 {
		s.dimensions = len(vecs[0])
	}
	return nil
}

// Remove deletes every chunk embedding for path. Removing a path with no
// stored chunks is a no-op, matching the fingerprint index's contract.
func (s *SQLiteStore) Remove(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return outcome.TransientIO(err, "remove vectors for %s", path)
	}
	return nil
}

// Search performs a brute-force cosine similarity search across every
// stored chunk and returns the top k results.
func (s *SQLiteStore) Search(ctx context.Context, query Embedding, k int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, outcome.Validation("search query embedding is empty")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.path, c.chunk_index, c.breadcrumb, c.heading, c.embedding
		FROM chunk_embeddings c
		JOIN files f ON c.file_id = f.id
	`)
	if err != nil {
		return nil, outcome.TransientIO(err, "search vector store")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var path, breadcrumb, heading string
		var idx int
		var blob []byte
		if err := rows.Scan(&path, &idx, &breadcrumb, &heading, &blob); err != nil {
			return nil, outcome.TransientIO(err, "scan search row")
		}
		emb := bytesToEmbed(blob)
		if len(emb) != len(query) {
			continue
		}
		results = append(results, SearchResult{
			Path:       path,
			ChunkIndex: idx,
			Breadcrumb: breadcrumb,
			Heading:    heading,
			Score:      cosine(query, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, outcome.TransientIO(err, "iterate search rows")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func embedToBytes(e Embedding) []byte {
	b := make([]byte, 4*len(e))
	for i, f := range e {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func bytesToEmbed(b []byte) Embedding {
	if len(b)%4 != 0 {
		return nil
	}
	n := len(b) / 4
	e := make(Embedding, n)
	for i := 0; i < n; i++ {
		e[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return e
}

func cosine(a, b Embedding) float64 {
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorStore = (*SQLiteStore)(nil)
