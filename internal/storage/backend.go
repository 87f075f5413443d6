// Package storage implements persistence backends for the realtime hub.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zot/shopsync/internal/config"
)

// ErrNotFound is returned by Get when a path holds no value.
var ErrNotFound = errors.New("storage: not found")

// Backend defines the interface for storage backends.
// Paths are opaque slash-separated strings; values are raw JSON documents.
type Backend interface {
	// Get retrieves the value at path.
	Get(path string) (json.RawMessage, error)

	// Put stores value at path, replacing any previous value.
	Put(path string, value json.RawMessage) error

	// Delete removes the value at path. Deleting a missing path is not an error.
	Delete(path string) error

	// List returns all stored paths starting with prefix, in ascending order.
	List(prefix string) ([]string, error)

	// Clear removes all data.
	Clear() error

	// Close closes the storage backend.
	Close() error
}

// Open creates the backend selected by cfg.
func Open(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	case "postgresql", "postgres":
		return NewPostgresStorage(cfg.URL)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}
