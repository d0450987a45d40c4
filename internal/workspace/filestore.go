package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore persists the workspace as a single JSON file. It is the
// default backend and mirrors browser local storage semantics: one
// fixed slot, last writer wins.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore writing to the given path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the persisted state. A missing file, unreadable file, or
// malformed JSON all yield (nil, nil): the caller falls back to a
// default workspace.
func (f *FileStore) Load() (*PersistedState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Debug("workspace file unreadable, starting fresh", "path", f.path, "error", err)
		}
		return nil, nil
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		f.logger.Debug("workspace file malformed, starting fresh", "path", f.path, "error", err)
		return nil, nil
	}
	if len(state.Tabs) == 0 {
		return nil, nil
	}
	return &state, nil
}

// Save writes the state atomically via a temp file rename so a crash
// mid-write never leaves a truncated workspace behind.
func (f *FileStore) Save(state PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspace state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".workspace-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp workspace file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write workspace state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close workspace file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace workspace file: %w", err)
	}
	return nil
}
