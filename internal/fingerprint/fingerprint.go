// Package fingerprint persists the per-folder map from relative file path
// to content fingerprint. It is the ground truth for "already indexed"
// (§3, §4.1 of the design). Storage is BoltDB, an embedded single-file KV
// store (github.com/boltdb/bolt, grounded on kiosk404-echoryn's stack) kept
// deliberately separate from the vector store so a corrupt fingerprint
// file can be rebuilt without touching embeddings, and vice versa.
package fingerprint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// Fingerprint is the (contentHash, size, mtime) triple for one file.
type Fingerprint struct {
	ContentHash string    `json:"contentHash"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
}

var bucketName = []byte("fingerprints")

// Index is the fingerprint index contract (§4.1): getAll/upsert/remove/isOpen.
type Index interface {
	GetAll() (map[string]Fingerprint, error)
	Upsert(path string, fp Fingerprint) error
	Remove(path string) error
	IsOpen() bool
	Close() error
	// Clear empties the index without replacing the underlying file. Used
	// when a sibling vector store had to be rebuilt from a clean state
	// (§4.1's consistency invariant): with the vector store empty, stale
	// fingerprints would make every file's decision "skip", so the index
	// must be wiped alongside it to force a full re-embed.
	Clear() error
}

// Store implements Index backed by a BoltDB file.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (or creates) the fingerprint store at path. If the existing
// file is unreadable or structurally invalid — the corruption-recovery
// contract in §4.1 and §7 — it is replaced with a freshly initialised
// store and Recovered is true so the caller can reschedule a full scan.
func Open(path string) (store *Store, recovered bool, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, false, outcome.TransientIO(mkErr, "create fingerprint directory %s", dir)
		}
	}

	db, openErr := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if openErr != nil {
		// Planting non-store bytes at the expected location makes bolt.Open
		// fail (bad magic / truncated meta page). Treat the index as empty:
		// remove the offending file and start clean.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, false, outcome.StoreCorruption(openErr, "fingerprint store %s unreadable and could not be removed", path)
		}
		db, openErr = bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
		if openErr != nil {
			return nil, false, outcome.StoreCorruption(openErr, "fingerprint store %s could not be reinitialised", path)
		}
		recovered = true
	}

	if txErr := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); txErr != nil {
		_ = db.Close()
		// Schema-level corruption (e.g. a bucket that can't be created
		// because the underlying page is garbage) gets the same treatment.
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, false, outcome.StoreCorruption(txErr, "fingerprint store %s bucket init failed", path)
		}
		db, openErr = bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
		if openErr != nil {
			return nil, false, outcome.StoreCorruption(openErr, "fingerprint store %s could not be reinitialised after bucket failure", path)
		}
		if txErr2 := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		}); txErr2 != nil {
			_ = db.Close()
			return nil, false, outcome.StoreCorruption(txErr2, "fingerprint store %s bucket init failed after recovery", path)
		}
		recovered = true
	}

	return &Store{db: db, path: path}, recovered, nil
}

// IsOpen reports whether the underlying database handle is live.
func (s *Store) IsOpen() bool {
	return s != nil && s.db != nil
}

// GetAll returns every (relativePath, fingerprint) pair.
func (s *Store) GetAll() (map[string]Fingerprint, error) {
	out := make(map[string]Fingerprint)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var fp Fingerprint
			if err := json.Unmarshal(v, &fp); err != nil {
				return err
			}
			out[string(k)] = fp
			return nil
		})
	})
	if err != nil {
		return nil, outcome.TransientIO(err, "read fingerprint index %s", s.path)
	}
	return out, nil
}

// Upsert writes a fingerprint. Bolt's Update commits are fsync'd before
// returning, satisfying the "durable before the vector-store mutation is
// acknowledged" ordering requirement in §4.1 when callers sequence
// store.upsert before fingerprint.upsert as §4.5 mandates.
func (s *Store) Upsert(path string, fp Fingerprint) error {
	body, err := json.Marshal(fp)
	if err != nil {
		return outcome.Validation("marshal fingerprint for %s: %v", path, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			var cErr error
			b, cErr = tx.CreateBucket(bucketName)
			if cErr != nil {
				return cErr
			}
		}
		return b.Put([]byte(path), body)
	})
	if err != nil {
		return outcome.TransientIO(err, "upsert fingerprint %s", path)
	}
	return nil
}

// Remove deletes a fingerprint. Removing a key that does not exist is a no-op.
func (s *Store) Remove(path string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(path))
	})
	if err != nil {
		return outcome.TransientIO(err, "remove fingerprint %s", path)
	}
	return nil
}

// Clear deletes every entry from the index, leaving the bucket empty but
// the store itself open and valid.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if delErr := tx.DeleteBucket(bucketName); delErr != nil && delErr != bolt.ErrBucketNotFound {
			return delErr
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		return outcome.TransientIO(err, "clear fingerprint index %s", s.path)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Index = (*Store)(nil)
