package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Table is a single JSON document on disk that is always read and written as
// a whole. Every Load re-reads the file; a missing file yields the zero value.
type Table[T any] struct {
	mu   sync.Mutex
	path string
}

func NewTable[T any](path string) *Table[T] {
	return &Table[T]{path: path}
}

// Load returns the latest persisted state of the table.
func (t *Table[T]) Load() (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

// Update runs fn against the current state and persists the result.
// The read-modify-write is serialised against other updates of the same table.
// If fn returns an error nothing is written.
func (t *Table[T]) Update(fn func(v *T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, err := t.read()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return t.write(v)
}

func (t *Table[T]) read() (T, error) {
	var v T
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return v, fmt.Errorf("read table %s: %w", t.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode table %s: %w", t.path, err)
	}
	return v, nil
}

// write replaces the table file via a temp file and rename so readers never
// observe a partially written document.
func (t *Table[T]) write(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode table %s: %w", t.path, err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", t.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write table %s: %w", t.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync table %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table %s: %w", t.path, err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return fmt.Errorf("replace table %s: %w", t.path, err)
	}
	return nil
}
