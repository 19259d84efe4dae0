// Package sidecar persists per-file enrichment metadata as JSON files
// under a content-addressed filename in the metadata directory.
//
// There is no locking here: callers serialize access per source path
// through the event queue. Concurrent external writers are unsupported.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karmaniverous/jeeves-watcher/internal/identity"
)

// DefaultDir is the default metadata directory name.
const DefaultDir = ".jeeves-watcher"

// Store reads and writes enrichment sidecar files for one metadata
// directory.
type Store struct {
	dir string
}

// NewStore creates a sidecar store rooted at dir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir}
}

// Dir returns the metadata directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the sidecar file path for a source path.
func (s *Store) PathFor(path string) string {
	return identity.SidecarPath(path, s.dir)
}

// Read loads the enrichment mapping for path. Any I/O or decode error,
// including not-found, yields (nil, false): callers treat a missing or
// unreadable sidecar as empty enrichment.
func (s *Store) Read(path string) (map[string]any, bool) {
	data, err := os.ReadFile(s.PathFor(path))
	if err != nil {
		return nil, false
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false
	}
	return meta, true
}

// Write persists the enrichment mapping for path, creating parent
// directories as needed. The body is pretty-printed JSON with a
// trailing newline.
func (s *Store) Write(path string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar for %s: %w", path, err)
	}
	data = append(data, '\n')

	target := s.PathFor(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar %s: %w", target, err)
	}
	return nil
}

// Delete removes the sidecar for path. Not-found is success.
func (s *Store) Delete(path string) error {
	err := os.Remove(s.PathFor(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete sidecar for %s: %w", path, err)
	}
	return nil
}
