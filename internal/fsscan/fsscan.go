// Package fsscan implements the file-system capability from §6: scanning a
// folder for candidate files, hashing their content, and stat'ing them.
// Default excludes keep the sidecar directory and common dependency/VCS
// directories out of the scan, mirroring the exclude handling in the
// teacher's cache service.
package fsscan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// DefaultExcludeDirs is applied during every scan in addition to the
// sidecar directory itself.
var DefaultExcludeDirs = map[string]bool{
	"node_modules":        true,
	".git":                true,
	config.SidecarDirName: true,
}

// Stat mirrors the minimal metadata the lifecycle service needs per file.
type Stat struct {
	Size        int64
	Mtime       time.Time
	IsFile      bool
	IsDirectory bool
}

// Scan walks root and returns every regular file's path relative to root,
// skipping excluded directories. Extension filtering is left to the
// caller (the spec does not mandate a fixed allow-list; sidecar and VCS
// directories are the only hard exclusions).
func Scan(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && DefaultExcludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, outcome.TransientIO(err, "scan folder %s", root)
	}
	return out, nil
}

// HashContent returns the hex-encoded SHA-256 of a file's bytes.
func HashContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", outcome.TransientIO(err, "open %s for hashing", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", outcome.TransientIO(err, "read %s for hashing", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StatPath returns file metadata, or a transient-IO error if the file
// disappeared between scan and stat (a real possibility during rename
// storms per §4.6).
func StatPath(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stat{}, outcome.TransientIO(err, "stat %s", path)
	}
	return Stat{
		Size:        info.Size(),
		Mtime:       info.ModTime(),
		IsFile:      !info.IsDir(),
		IsDirectory: info.IsDir(),
	}, nil
}
