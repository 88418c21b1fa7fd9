package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// FolderEntry is the persisted, config-owned portion of a folder descriptor.
// Runtime fields (status, progress, lastError) never live here; only the
// orchestrator mutates those, in memory, via the FMDM snapshot.
type FolderEntry struct {
	Path    string `json:"path"`
	Model   string `json:"model"`
	Enabled bool   `json:"enabled"`
}

// FoldersFile is the on-disk shape of the persisted folders list, exactly
// as specified: `{ folders: [ { path, model, enabled } ... ] }`.
type FoldersFile struct {
	Folders []FolderEntry `json:"folders"`
}

// LoadFolders reads the persisted folders list. A missing file is not an
// error; it returns an empty list so a freshly started daemon can still
// answer getFoldersConfig.
func LoadFolders() (FoldersFile, error) {
	path, err := FoldersFilePath()
	if err != nil {
		return FoldersFile{}, outcome.Fatal(err, "resolve folders file path")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FoldersFile{}, nil
		}
		return FoldersFile{}, outcome.Fatal(err, "read folders file %s", path)
	}

	var cfg FoldersFile
	if err := json.Unmarshal(content, &cfg); err != nil {
		return FoldersFile{}, outcome.Fatal(err, "parse folders file %s", path)
	}
	return cfg, nil
}

// SaveFolders writes the persisted folders list durably.
func SaveFolders(cfg FoldersFile) error {
	dir, err := EnsureDir()
	if err != nil {
		return outcome.Fatal(err, "create config directory")
	}
	path, err := FoldersFilePath()
	if err != nil {
		return outcome.Fatal(err, "resolve folders file path")
	}
	_ = dir

	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return outcome.Fatal(err, "marshal folders file")
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return outcome.Fatal(err, "write folders file %s", path)
	}
	return nil
}

// UpsertFolder adds or updates a folder entry and persists the list.
func UpsertFolder(entry FolderEntry) error {
	cfg, err := LoadFolders()
	if err != nil {
		return err
	}
	found := false
	for i, f := range cfg.Folders {
		if f.Path == entry.Path {
			cfg.Folders[i] = entry
			found = true
			break
		}
	}
	if !found {
		cfg.Folders = append(cfg.Folders, entry)
	}
	return SaveFolders(cfg)
}

// RemoveFolder deletes a folder entry (if present) and persists the list.
// Removal never touches the folder's sidecar directory, so a re-add after
// restart rejoins the existing fingerprint index and vector store.
func RemoveFolder(path string) error {
	cfg, err := LoadFolders()
	if err != nil {
		return err
	}
	out := cfg.Folders[:0]
	for _, f := range cfg.Folders {
		if f.Path != path {
			out = append(out, f)
		}
	}
	cfg.Folders = out
	return SaveFolders(cfg)
}
