package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bellmanlabs/bellman/internal/fileio"
)

// fileSnapshot is the on-disk shape: the value map plus insertion order, so
// List is stable across reloads.
type fileSnapshot[V any] struct {
	SchemaVersion int          `json:"schema_version"`
	FileType      string       `json:"file_type"`
	Values        map[string]V `json:"values"`
	Order         []string     `json:"order"`
}

// File is a durable Store that loads its snapshot on construction and flushes
// the full snapshot via temp-file-then-atomic-rename on every mutation.
type File[V any] struct {
	mu       sync.RWMutex
	path     string
	fileType string
	values   map[string]V
	order    []string
}

// NewFile opens (or initializes) the snapshot at path. A corrupt snapshot is
// quarantined and the store starts empty.
func NewFile[V any](path, fileType string) (*File[V], error) {
	s := &File[V]{
		path:     path,
		fileType: fileType,
		values:   make(map[string]V),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read store snapshot: %w", err)
	}

	var snap fileSnapshot[V]
	if err := json.Unmarshal(data, &snap); err != nil {
		if _, qErr := fileio.Quarantine(filepath.Dir(path), path); qErr != nil {
			return nil, fmt.Errorf("quarantine corrupt snapshot: %w", qErr)
		}
		return s, nil
	}
	if snap.Values != nil {
		s.values = snap.Values
	}
	s.order = snap.Order
	return s, nil
}

func (s *File[V]) flushLocked() error {
	snap := fileSnapshot[V]{
		SchemaVersion: 1,
		FileType:      s.fileType,
		Values:        s.values,
		Order:         s.order,
	}
	return fileio.AtomicWriteJSON(s.path, snap)
}

func (s *File[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if err := checkContext(ctx); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

func (s *File[V]) Upsert(ctx context.Context, id string, value V) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[id]; !exists {
		s.order = append(s.order, id)
	}
	s.values[id] = value
	return s.flushLocked()
}

func (s *File[V]) Delete(ctx context.Context, id string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[id]; !exists {
		return nil
	}
	delete(s.values, id)
	for i, key := range s.order {
		if key == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.flushLocked()
}

func (s *File[V]) List(ctx context.Context, filter func(V) bool) ([]V, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, id := range s.order {
		v := s.values[id]
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}
