// Package remote connects to the realtime key/value store.
//
// An Adapter owns the process-wide connection: Available reports whether
// the connection parameters are complete, and Connect constructs the
// Handle at most once. A Handle multiplexes live path subscriptions and
// best-effort writes.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zot/shopsync/internal/config"
)

var (
	// ErrUnavailable means remote mode is disabled or could not be constructed.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrDisconnected is delivered to subscribers when the stream drops.
	ErrDisconnected = errors.New("remote: disconnected")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("remote: closed")
)

// DataFunc receives the current value of a path; nil means no data.
type DataFunc func(value json.RawMessage)

// ErrorFunc receives a transport failure. The subscription is dead afterwards.
type ErrorFunc func(err error)

// Handle is a live connection to the store.
type Handle interface {
	// Subscribe registers a listener on path. onData is called with the
	// current value and again on every change; onError ends the listener.
	// The returned function detaches it and is safe to call repeatedly.
	Subscribe(path string, onData DataFunc, onError ErrorFunc) (unsubscribe func())

	// Unsubscribe detaches every listener on path. Safe on detached paths.
	Unsubscribe(path string)

	// Write persists value at path. A nil value deletes it. One attempt only.
	Write(ctx context.Context, path string, value json.RawMessage) error

	// Close releases the connection.
	Close() error
}

// Dialer constructs a Handle from connection parameters.
type Dialer func(cfg *config.Config) (Handle, error)

// Adapter guards the process-wide Handle.
type Adapter struct {
	config *config.Config
	dial   Dialer

	once   sync.Once
	handle Handle
	err    error
	mu     sync.Mutex
}

// NewAdapter creates an adapter that dials the websocket Client.
func NewAdapter(cfg *config.Config) *Adapter {
	return NewAdapterWith(cfg, func(cfg *config.Config) (Handle, error) {
		return NewClient(cfg)
	})
}

// NewAdapterWith creates an adapter using a custom dialer (e.g., Memory).
func NewAdapterWith(cfg *config.Config, dial Dialer) *Adapter {
	return &Adapter{config: cfg, dial: dial}
}

// Available reports whether endpoint, project and access key are all set.
func (a *Adapter) Available() bool {
	return a.config.Remote.Complete()
}

// Connect returns the shared Handle, constructing it on first use.
// A construction failure is remembered: later calls return it again.
func (a *Adapter) Connect() (Handle, error) {
	if !a.Available() {
		return nil, ErrUnavailable
	}
	a.once.Do(func() {
		h, err := a.dial(a.config)
		if err != nil {
			a.config.Log(0, "remote: failed to initialize connection: %v", err)
			a.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		a.config.Log(1, "remote: connected to %s project=%s", a.config.Remote.URL, a.config.Remote.Project)
		a.mu.Lock()
		a.handle = h
		a.mu.Unlock()
	})
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle, a.err
}

// Close closes the shared Handle if it was constructed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// SanitizeKey replaces characters the store reserves in path segments.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}

var keyReplacer = strings.NewReplacer(
	".", "_",
	"#", "_",
	"$", "_",
	"[", "_",
	"]", "_",
	"/", "_",
)

// Path joins the namespace and a sanitized key.
func Path(namespace, key string) string {
	if namespace == "" {
		return SanitizeKey(key)
	}
	return namespace + "/" + SanitizeKey(key)
}
