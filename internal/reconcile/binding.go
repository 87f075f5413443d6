package reconcile

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/zot/shopsync/internal/remote"
)

// Mode is the source a Binding currently tracks.
type Mode int

const (
	// Uninitialized: not yet mounted.
	Uninitialized Mode = iota
	// RemoteSubscribed: the value follows remote pushes.
	RemoteSubscribed
	// LocalFallback: the value follows the local store and other writers to it.
	LocalFallback
	// Migrating: local data is being copied into the empty remote key.
	Migrating
)

func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "uninitialized"
	case RemoteSubscribed:
		return "remote"
	case LocalFallback:
		return "local"
	case Migrating:
		return "migrating"
	}
	return "unknown"
}

// Binding is one consumer's reconciled view of a key.
type Binding struct {
	engine    *Engine
	key       string
	sanitized string
	path      string
	initial   json.RawMessage

	mu          sync.Mutex
	value       json.RawMessage
	mode        Mode
	pushed      bool // a remote push arrived
	handle      remote.Handle
	unsubRemote func()
	unsubLocal  func()
	listeners   map[uint64]func(json.RawMessage)
	nextID      uint64
	closed      bool
}

// Key returns the key as given to Bind.
func (b *Binding) Key() string {
	return b.key
}

// Path returns the remote path of the key.
func (b *Binding) Path() string {
	return b.path
}

// Get returns the reconciled value.
func (b *Binding) Get() json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Mode returns the current source.
func (b *Binding) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Resolved reports whether the value came from a store rather than the
// initial value awaiting the first remote push.
func (b *Binding) Resolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode == LocalFallback || b.pushed
}

// mount subscribes remotely when h is set, otherwise reads the local store.
func (b *Binding) mount(h remote.Handle) {
	e := b.engine
	b.mu.Lock()
	defer b.mu.Unlock()

	if h == nil {
		b.fallbackLocked()
		return
	}

	b.handle = h
	b.mode = RemoteSubscribed
	e.config.Log(3, "reconcile: %s subscribing to %s", b.key, b.path)
	b.unsubRemote = h.Subscribe(b.path,
		func(value json.RawMessage) {
			e.post(func() { b.onRemoteData(value) })
		},
		func(err error) {
			e.post(func() { b.onRemoteError(err) })
		})
}

// onRemoteData applies a remote push.
func (b *Binding) onRemoteData(value json.RawMessage) {
	e := b.engine
	b.mu.Lock()
	if b.closed || b.mode == LocalFallback {
		b.mu.Unlock()
		return
	}
	first := !b.pushed
	b.pushed = true
	e.config.Log(4, "reconcile: push %s = %s", b.key, string(value))

	if !IsEmptyRaw(value) {
		b.value = value
		if b.mode != Migrating {
			b.mode = RemoteSubscribed
		}
		e.local.Write(b.sanitized, value)
		b.notifyLocked()
		b.mu.Unlock()
		return
	}

	if first {
		if data, ok := e.local.Read(b.sanitized); ok && !IsEmptyRaw(data) && e.markMigrated(b.sanitized) {
			b.migrateLocked(data)
			b.mu.Unlock()
			return
		}
	}
	// The local copy stays as the offline backup.
	b.value = b.initial
	b.notifyLocked()
	b.mu.Unlock()
}

// migrateLocked copies local data into the empty remote key and shows it
// right away.
func (b *Binding) migrateLocked(data json.RawMessage) {
	e := b.engine
	e.config.Log(1, "reconcile: migrating local data to remote for key: %s", b.key)
	b.mode = Migrating
	b.value = data
	b.notifyLocked()

	e.write(b.handle, b.path, data, func(err error) {
		if err != nil {
			e.config.Log(0, "reconcile: failed to migrate %s to remote: %v", b.key, err)
			e.unmarkMigrated(b.sanitized)
		} else {
			e.config.Log(1, "reconcile: migrated %s to remote", b.key)
		}
		b.mu.Lock()
		if !b.closed && b.mode == Migrating {
			b.mode = RemoteSubscribed
		}
		b.mu.Unlock()
	})
}

// onRemoteError switches the binding to the local store.
func (b *Binding) onRemoteError(err error) {
	e := b.engine
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.mode == LocalFallback {
		return
	}
	e.config.Log(0, "reconcile: remote read error for %s: %v", b.key, err)
	if b.unsubRemote != nil {
		b.unsubRemote()
		b.unsubRemote = nil
	}
	b.fallbackLocked()
	b.notifyLocked()
}

// fallbackLocked loads the local value and observes other writers.
func (b *Binding) fallbackLocked() {
	e := b.engine
	b.mode = LocalFallback
	b.value = b.loadLocal()
	if b.unsubLocal == nil {
		b.unsubLocal = e.local.Subscribe(b.sanitized, func(value json.RawMessage) {
			e.post(func() { b.onLocalChange(value) })
		})
	}
	e.config.Log(3, "reconcile: %s using local store", b.key)
}

func (b *Binding) loadLocal() json.RawMessage {
	if data, ok := b.engine.local.Read(b.sanitized); ok {
		return data
	}
	return b.initial
}

// onLocalChange applies another writer's local change.
func (b *Binding) onLocalChange(value json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.mode != LocalFallback {
		return
	}
	if value == nil {
		value = b.initial
	}
	b.value = value
	b.notifyLocked()
}

// Set replaces the value.
func (b *Binding) Set(value json.RawMessage) {
	b.Update(func(json.RawMessage) json.RawMessage { return value })
}

// Update computes the next value from the current one. The new value is
// visible immediately, written to the local store before Update returns
// and sent to the remote store in the background. A failed remote write
// is logged and nothing is rolled back.
func (b *Binding) Update(fn func(prev json.RawMessage) json.RawMessage) {
	e := b.engine
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		e.config.Log(0, "reconcile: set on closed binding %s ignored", b.key)
		return
	}

	next := fn(b.value)
	b.value = next
	if b.handle != nil {
		key := b.key
		e.write(b.handle, b.path, next, func(err error) {
			if err != nil {
				e.config.Log(0, "reconcile: remote write error for %s: %v", key, err)
			}
		})
	}
	e.local.Write(b.sanitized, next)
	b.notifyLocked()
}

// Delete clears the key in both stores and reverts to the initial value.
func (b *Binding) Delete() {
	e := b.engine
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.value = b.initial
	if b.handle != nil {
		key := b.key
		e.write(b.handle, b.path, nil, func(err error) {
			if err != nil {
				e.config.Log(0, "reconcile: remote delete error for %s: %v", key, err)
			}
		})
	}
	e.local.Remove(b.sanitized)
	b.notifyLocked()
}

// OnChange registers fn to receive every new value, in order, on the
// engine's event queue. The returned function cancels it.
func (b *Binding) OnChange(fn func(json.RawMessage)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// notifyLocked queues delivery of the current value.
func (b *Binding) notifyLocked() {
	if len(b.listeners) == 0 {
		return
	}
	value := b.value
	b.engine.post(func() {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		ids := make([]uint64, 0, len(b.listeners))
		for id := range b.listeners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		fns := make([]func(json.RawMessage), len(ids))
		for i, id := range ids {
			fns[i] = b.listeners[id]
		}
		b.mu.Unlock()

		for _, fn := range fns {
			fn(value)
		}
	})
}

// Close unmounts the binding. Safe to call more than once; results that
// arrive afterwards are ignored.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubRemote, unsubLocal := b.unsubRemote, b.unsubLocal
	b.unsubRemote, b.unsubLocal = nil, nil
	b.listeners = make(map[uint64]func(json.RawMessage))
	b.mu.Unlock()

	if unsubRemote != nil {
		unsubRemote()
	}
	if unsubLocal != nil {
		unsubLocal()
	}
	b.engine.forget(b)
	b.engine.config.Log(3, "reconcile: %s closed", b.key)
}
