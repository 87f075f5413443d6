package remote

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/zot/shopsync/internal/config"
)

// Memory is an in-process Handle. Subscribers receive the current value
// synchronously from Subscribe and every accepted write synchronously
// from Write, the way a locally cached realtime client reports its own
// writes.
type Memory struct {
	mu      sync.Mutex
	values  map[string]json.RawMessage
	subs    map[string]map[uint64]*subscription
	writes  map[string]int
	nextID  uint64
	failErr error
	hold    chan struct{}
	closed  bool
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]json.RawMessage),
		subs:   make(map[string]map[uint64]*subscription),
		writes: make(map[string]int),
	}
}

// Dialer returns a Dialer whose handles are connections to m. Closing a
// connection drops only the subscriptions made through it.
func (m *Memory) Dialer() Dialer {
	return func(*config.Config) (Handle, error) { return &memoryConn{store: m}, nil }
}

type memoryConn struct {
	store  *Memory
	mu     sync.Mutex
	stops  []func()
	closed bool
}

func (c *memoryConn) Subscribe(path string, onData DataFunc, onError ErrorFunc) func() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		onError(ErrClosed)
		return func() {}
	}
	stop := c.store.Subscribe(path, onData, onError)
	c.mu.Lock()
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
	return stop
}

func (c *memoryConn) Unsubscribe(path string) {
	c.store.Unsubscribe(path)
}

func (c *memoryConn) Write(ctx context.Context, path string, value json.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.store.Write(ctx, path, value)
}

func (c *memoryConn) Keys(ctx context.Context, prefix string) ([]string, error) {
	return c.store.Keys(ctx, prefix)
}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	stops := c.stops
	c.stops = nil
	c.closed = true
	c.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	return nil
}

// Subscribe registers a listener and delivers the current value.
func (m *Memory) Subscribe(path string, onData DataFunc, onError ErrorFunc) func() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		onError(ErrClosed)
		return func() {}
	}
	m.nextID++
	sub := &subscription{id: m.nextID, path: path, onData: onData, onError: onError}
	if m.subs[path] == nil {
		m.subs[path] = make(map[uint64]*subscription)
	}
	m.subs[path][sub.id] = sub
	value := m.values[path]
	m.mu.Unlock()

	onData(value)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[path], sub.id)
			if len(m.subs[path]) == 0 {
				delete(m.subs, path)
			}
			m.mu.Unlock()
		})
	}
}

// Unsubscribe detaches every listener on path.
func (m *Memory) Unsubscribe(path string) {
	m.mu.Lock()
	delete(m.subs, path)
	m.mu.Unlock()
}

// Write stores value and notifies subscribers. It fails with the error
// set by FailWrites and blocks while writes are held.
func (m *Memory) Write(ctx context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.writes[path]++
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.Set(path, value)
	return nil
}

// Set changes a value as if another client wrote it. Writes are not counted.
func (m *Memory) Set(path string, value json.RawMessage) {
	m.mu.Lock()
	if value == nil || string(value) == "null" {
		value = nil
		delete(m.values, path)
	} else {
		m.values[path] = append(json.RawMessage(nil), value...)
	}
	subs := m.snapshot(path)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.onData(value)
	}
}

// Get returns the stored value at path, nil when absent.
func (m *Memory) Get(path string) json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[path]
}

// Paths lists stored paths in order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.values))
	for path := range m.values {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Keys lists the stored paths starting with prefix.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, path := range m.Paths() {
		if strings.HasPrefix(path, prefix) {
			keys = append(keys, path)
		}
	}
	return keys, nil
}

// Writes returns how many writes were attempted on path.
func (m *Memory) Writes(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[path]
}

// Subscribers returns how many listeners are attached to path.
func (m *Memory) Subscribers(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[path])
}

// FailWrites makes every later write fail with err; nil restores success.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// HoldWrites blocks writes until the returned release function is called.
func (m *Memory) HoldWrites() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.hold = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == ch {
				m.hold = nil
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Break delivers err to every listener on path and detaches them.
func (m *Memory) Break(path string, err error) {
	m.mu.Lock()
	subs := m.snapshot(path)
	delete(m.subs, path)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.onError(err)
	}
}

// Close detaches all listeners and rejects later calls.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.subs = make(map[string]map[uint64]*subscription)
	m.mu.Unlock()
	return nil
}

func (m *Memory) snapshot(path string) []*subscription {
	subs := make([]*subscription, 0, len(m.subs[path]))
	for _, sub := range m.subs[path] {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}
