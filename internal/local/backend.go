// Package local is the persistent key/value store of one profile.
//
// A Backend holds raw string values and reports changes made by other
// writers sharing the same profile (another tab, another process). Store
// layers the key prefix, JSON encoding, the value quota and per-key
// subscriptions on top.
package local

import (
	"errors"
	"fmt"

	"github.com/zot/shopsync/internal/config"
)

var (
	// ErrQuotaExceeded is returned when a value is larger than the configured limit.
	ErrQuotaExceeded = errors.New("local: quota exceeded")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("local: closed")
)

// ChangeFunc reports a change made by another writer.
// present is false when the key was removed.
type ChangeFunc func(key, value string, present bool)

// Backend is raw profile storage.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)

	// Watch delivers changes made by other writers until stop is called.
	Watch(fn ChangeFunc) (stop func(), err error)

	Close() error
}

// Open creates the backend selected by cfg.Local.Type.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Local.Type {
	case "memory", "":
		return NewProfile().Open(), nil
	case "file":
		return NewFileBackend(cfg, cfg.Local.Dir)
	case "sqlite":
		return NewSQLiteBackend(cfg, cfg.Local.Path)
	default:
		return nil, fmt.Errorf("local: unknown backend type %q", cfg.Local.Type)
	}
}
