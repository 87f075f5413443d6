package storage

import (
	"encoding/json"
	"strings"

	"github.com/zhangyunhao116/skipmap"
)

// MemoryStorage is an in-memory storage backend ordered by path.
type MemoryStorage struct {
	values *skipmap.FuncMap[string, json.RawMessage]
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: newPathMap()}
}

func newPathMap() *skipmap.FuncMap[string, json.RawMessage] {
	return skipmap.NewFunc[string, json.RawMessage](func(a, b string) bool {
		return a < b
	})
}

// Get retrieves a copy of the value at path.
func (m *MemoryStorage) Get(path string) (json.RawMessage, error) {
	v, ok := m.values.Load(path)
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), v...), nil
}

// Put stores a copy of value at path.
func (m *MemoryStorage) Put(path string, value json.RawMessage) error {
	m.values.Store(path, append(json.RawMessage(nil), value...))
	return nil
}

// Delete removes the value at path.
func (m *MemoryStorage) Delete(path string) error {
	m.values.Delete(path)
	return nil
}

// List returns the stored paths with the given prefix.
func (m *MemoryStorage) List(prefix string) ([]string, error) {
	var paths []string
	m.values.Range(func(path string, _ json.RawMessage) bool {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		} else if path > prefix {
			// Ordered keys: past the prefix range
			return false
		}
		return true
	})
	return paths, nil
}

// Clear removes all data.
func (m *MemoryStorage) Clear() error {
	m.values = newPathMap()
	return nil
}

// Close closes the storage backend.
func (m *MemoryStorage) Close() error {
	return nil
}

// Count returns the number of stored paths.
func (m *MemoryStorage) Count() int {
	return m.values.Len()
}
