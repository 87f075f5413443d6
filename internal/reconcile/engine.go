// Package reconcile merges the remote and local stores into one value per key.
//
// An Engine is the process context: it holds the remote handle, the set of
// keys already migrated to the remote store, and the event queue on which
// every remote push, local change and listener notification is applied in
// order. Consumers Bind a key (or Use it, typed) and read, set, observe and
// close the resulting Binding.
package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
	"github.com/zot/shopsync/internal/remote"
	"github.com/zot/shopsync/internal/svc"
)

// writeTimeout bounds one remote write attempt.
const writeTimeout = 30 * time.Second

// Engine owns every Binding of a process.
type Engine struct {
	config    *config.Config
	adapter   *remote.Adapter
	local     *local.Store
	namespace string
	svc       *svc.Svc

	mu       sync.Mutex
	cond     *sync.Cond
	migrated map[string]struct{}
	bindings map[*Binding]struct{}
	writes   map[string]*writeQueue // remote path -> pending writes
	inflight int
	closed   bool
}

// New creates an engine. adapter may be nil for local-only operation.
func New(cfg *config.Config, adapter *remote.Adapter, store *local.Store) *Engine {
	e := &Engine{
		config:    cfg,
		adapter:   adapter,
		local:     store,
		namespace: cfg.Remote.Namespace,
		svc:       svc.New(),
		migrated:  make(map[string]struct{}),
		bindings:  make(map[*Binding]struct{}),
		writes:    make(map[string]*writeQueue),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Local returns the local store.
func (e *Engine) Local() *local.Store {
	return e.local
}

// RemoteEnabled reports whether bindings will subscribe remotely.
func (e *Engine) RemoteEnabled() bool {
	return e.remoteHandle() != nil
}

// remoteHandle returns the shared handle or nil in local-only mode.
func (e *Engine) remoteHandle() remote.Handle {
	if e.adapter == nil || !e.adapter.Available() {
		return nil
	}
	h, err := e.adapter.Connect()
	if err != nil {
		return nil
	}
	return h
}

// Bind mounts key. initial is the value reported while neither store
// has data; nil means JSON null.
func (e *Engine) Bind(key string, initial json.RawMessage) *Binding {
	sanitized := remote.SanitizeKey(key)
	b := &Binding{
		engine:    e,
		key:       key,
		sanitized: sanitized,
		path:      remote.Path(e.namespace, key),
		initial:   initial,
		value:     initial,
		listeners: make(map[uint64]func(json.RawMessage)),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		b.closed = true
		return b
	}
	e.bindings[b] = struct{}{}
	e.mu.Unlock()

	b.mount(e.remoteHandle())
	return b
}

// Migrated reports whether key was migrated to the remote store in this process.
func (e *Engine) Migrated(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.migrated[remote.SanitizeKey(key)]
	return ok
}

// markMigrated claims the migration of a sanitized key; false if already claimed.
func (e *Engine) markMigrated(sanitized string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.migrated[sanitized]; ok {
		return false
	}
	e.migrated[sanitized] = struct{}{}
	return true
}

func (e *Engine) unmarkMigrated(sanitized string) {
	e.mu.Lock()
	delete(e.migrated, sanitized)
	e.mu.Unlock()
}

// writeQueue holds the remote writes of one path that have not been sent.
type writeQueue struct {
	jobs []writeJob
}

type writeJob struct {
	handle remote.Handle
	value  json.RawMessage
	done   func(error)
}

// write sends value to the remote store in the background. Writes to the
// same path are sent one at a time in call order. done runs on the event
// queue once the attempt settles.
func (e *Engine) write(h remote.Handle, path string, value json.RawMessage, done func(error)) {
	e.mu.Lock()
	e.inflight++
	q, draining := e.writes[path]
	if !draining {
		q = &writeQueue{}
		e.writes[path] = q
	}
	q.jobs = append(q.jobs, writeJob{handle: h, value: value, done: done})
	e.mu.Unlock()

	if !draining {
		go e.drain(path, q)
	}
}

// drain sends the queued writes of path until none are left.
func (e *Engine) drain(path string, q *writeQueue) {
	for {
		e.mu.Lock()
		if len(q.jobs) == 0 {
			delete(e.writes, path)
			e.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = writeJob{}
		q.jobs = q.jobs[1:]
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := job.handle.Write(ctx, path, job.value)
		cancel()

		e.svc.Post(func() { job.done(err) })

		e.mu.Lock()
		e.inflight--
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

// post queues code on the event queue.
func (e *Engine) post(code func()) {
	e.svc.Post(code)
}

// Settle waits until no remote write is in flight and the event queue is
// drained, including work those produce.
func (e *Engine) Settle() {
	for {
		e.mu.Lock()
		for e.inflight > 0 {
			e.cond.Wait()
		}
		e.mu.Unlock()

		e.svc.Idle()

		e.mu.Lock()
		idle := e.inflight == 0
		e.mu.Unlock()
		if idle {
			return
		}
	}
}

// Close unmounts every binding, waits for in-flight writes and stops the
// event queue. It does not close the adapter or the local store.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	bindings := make([]*Binding, 0, len(e.bindings))
	for b := range e.bindings {
		bindings = append(bindings, b)
	}
	e.mu.Unlock()

	for _, b := range bindings {
		b.Close()
	}
	e.Settle()
	e.svc.Close()
}

func (e *Engine) forget(b *Binding) {
	e.mu.Lock()
	delete(e.bindings, b)
	e.mu.Unlock()
}
