package changelog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const FileName = "rules-changelog.json"

// Store persists the global changelog as a complete snapshot.
type Store interface {
	Load() (map[string][]Entry, error)
	Save(entries map[string][]Entry) error
}

// document is the on-disk envelope of the changelog file.
type document struct {
	Changelog map[string][]Entry `json:"changelog"`
}

// FileStore keeps the changelog as one JSON file, written atomically via a
// temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, FileName)}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (map[string][]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string][]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc.Changelog == nil {
		doc.Changelog = make(map[string][]Entry)
	}
	return doc.Changelog, nil
}

func (s *FileStore) Save(entries map[string][]Entry) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(document{Changelog: entries}); err != nil {
		return fmt.Errorf("failed to serialize changelog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp changelog snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write changelog snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close changelog snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace changelog snapshot: %w", err)
	}
	return nil
}
