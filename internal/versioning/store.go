package versioning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	LockFileName       = "version.lock.json"
	DeprecatedFileName = "deprecated_rules.json"
)

// Store persists the version lock and the deprecation registry. Both are
// written as complete snapshots: there is no incremental update path.
type Store interface {
	LoadLock() (map[string]LockEntry, error)
	SaveLock(entries map[string]LockEntry) error
	LoadDeprecations() (map[string]DeprecationEntry, error)
	SaveDeprecations(entries map[string]DeprecationEntry) error
}

// FileStore keeps both ledgers as JSON files in one directory. Snapshots
// are written to a temp file and renamed into place so other processes
// never observe a partial write.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) LockPath() string {
	return filepath.Join(s.dir, LockFileName)
}

func (s *FileStore) DeprecatedPath() string {
	return filepath.Join(s.dir, DeprecatedFileName)
}

func (s *FileStore) LoadLock() (map[string]LockEntry, error) {
	entries := make(map[string]LockEntry)
	if err := loadSnapshot(s.LockPath(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) SaveLock(entries map[string]LockEntry) error {
	raw, err := marshalOrdered(entries, func(e LockEntry) string { return e.RuleName })
	if err != nil {
		return fmt.Errorf("failed to serialize version lock: %w", err)
	}
	return writeSnapshotAtomic(s.LockPath(), raw)
}

func (s *FileStore) LoadDeprecations() (map[string]DeprecationEntry, error) {
	entries := make(map[string]DeprecationEntry)
	if err := loadSnapshot(s.DeprecatedPath(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) SaveDeprecations(entries map[string]DeprecationEntry) error {
	raw, err := marshalOrdered(entries, func(e DeprecationEntry) string { return e.RuleName })
	if err != nil {
		return fmt.Errorf("failed to serialize deprecation registry: %w", err)
	}
	return writeSnapshotAtomic(s.DeprecatedPath(), raw)
}

// loadSnapshot reads a JSON snapshot into out. A missing file yields the
// zero snapshot: a ledger that has never been written is simply empty.
func loadSnapshot(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// marshalOrdered emits a JSON object whose keys appear in order of the
// entry name rather than the map key, keeping snapshot diffs readable.
func marshalOrdered[T any](entries map[string]T, name func(T) string) ([]byte, error) {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := name(entries[ids[i]]), name(entries[ids[j]])
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, id := range ids {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(": ")
		value, err := json.MarshalIndent(entries[id], "  ", "  ")
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	if len(ids) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeSnapshotAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}
	return nil
}
