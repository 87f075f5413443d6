package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zot/shopsync/internal/config"
)

// exerciseBackend runs the shared backend contract.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()

	if _, err := b.Get("spookiki/cart"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing path, got %v", err)
	}

	if err := b.Put("spookiki/cart", json.RawMessage(`[{"product_id":"p1"}]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Put("spookiki/orders", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Put("other/cart", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	v, err := b.Get("spookiki/cart")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != `[{"product_id":"p1"}]` {
		t.Errorf("Unexpected value %s", v)
	}

	paths, err := b.List("spookiki/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "spookiki/cart" || paths[1] != "spookiki/orders" {
		t.Errorf("Expected [spookiki/cart spookiki/orders], got %v", paths)
	}

	if err := b.Delete("spookiki/cart"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Delete("spookiki/cart"); err != nil {
		t.Errorf("Deleting a missing path should not fail: %v", err)
	}
	if _, err := b.Get("spookiki/cart"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if err := b.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if paths, _ := b.List(""); len(paths) != 0 {
		t.Errorf("Expected empty storage after Clear, got %v", paths)
	}
}

// TestMemoryStorage verifies the in-memory backend
func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage()
	exerciseBackend(t, m)
}

// TestMemoryStorageCopies verifies stored values are isolated from callers
func TestMemoryStorageCopies(t *testing.T) {
	m := NewMemoryStorage()
	raw := json.RawMessage(`"abc"`)
	m.Put("k", raw)
	raw[1] = 'X'

	v, _ := m.Get("k")
	if string(v) != `"abc"` {
		t.Errorf("Stored value was mutated through caller slice: %s", v)
	}
}

// TestSQLiteStorage verifies the SQLite backend
func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer s.Close()
	exerciseBackend(t, s)
}

// TestSQLiteListEscapesWildcards verifies prefix listing is literal
func TestSQLiteListEscapesWildcards(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer s.Close()

	s.Put("a_b/x", json.RawMessage(`1`))
	s.Put("aXb/x", json.RawMessage(`2`))

	paths, err := s.List("a_b/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "a_b/x" {
		t.Errorf("Expected only a_b/x, got %v", paths)
	}
}

// TestOpenUnknownType verifies unknown storage types are rejected
func TestOpenUnknownType(t *testing.T) {
	if _, err := Open(config.StorageConfig{Type: "redis"}); err == nil {
		t.Error("Expected error for unknown storage type")
	}
	b, err := Open(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	b.Close()
}
