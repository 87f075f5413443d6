package local

import (
	"sort"
	"sync"
)

// Profile is an in-process storage area shared by any number of tabs.
type Profile struct {
	mu   sync.Mutex
	data map[string]string
	tabs map[*MemoryBackend]struct{}
}

// NewProfile creates an empty profile.
func NewProfile() *Profile {
	return &Profile{
		data: make(map[string]string),
		tabs: make(map[*MemoryBackend]struct{}),
	}
}

// Open attaches a new tab to the profile.
func (p *Profile) Open() *MemoryBackend {
	tab := &MemoryBackend{profile: p, watchers: make(map[uint64]ChangeFunc)}
	p.mu.Lock()
	p.tabs[tab] = struct{}{}
	p.mu.Unlock()
	return tab
}

// Len returns the number of stored keys.
func (p *Profile) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// MemoryBackend is one tab of a Profile. Changes it makes are delivered
// synchronously to the watchers of every other open tab.
type MemoryBackend struct {
	profile  *Profile
	watchers map[uint64]ChangeFunc // guarded by profile.mu
	nextID   uint64
	closed   bool
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.profile.mu.Lock()
	defer m.profile.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	value, ok := m.profile.data[key]
	return value, ok, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	return m.change(key, value, true)
}

func (m *MemoryBackend) Remove(key string) error {
	return m.change(key, "", false)
}

func (m *MemoryBackend) change(key, value string, present bool) error {
	p := m.profile
	p.mu.Lock()
	if m.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	old, had := p.data[key]
	if present {
		p.data[key] = value
	} else {
		delete(p.data, key)
	}
	var notify []ChangeFunc
	if had != present || old != value {
		for tab := range p.tabs {
			if tab == m {
				continue
			}
			for _, fn := range tab.watchers {
				notify = append(notify, fn)
			}
		}
	}
	p.mu.Unlock()

	for _, fn := range notify {
		fn(key, value, present)
	}
	return nil
}

func (m *MemoryBackend) Keys() ([]string, error) {
	m.profile.mu.Lock()
	defer m.profile.mu.Unlock()
	keys := make([]string, 0, len(m.profile.data))
	for key := range m.profile.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Watch(fn ChangeFunc) (func(), error) {
	p := m.profile
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	return func() {
		p.mu.Lock()
		delete(m.watchers, id)
		p.mu.Unlock()
	}, nil
}

// Close detaches the tab. The profile keeps its data.
func (m *MemoryBackend) Close() error {
	p := m.profile
	p.mu.Lock()
	defer p.mu.Unlock()
	m.closed = true
	m.watchers = make(map[uint64]ChangeFunc)
	delete(p.tabs, m)
	return nil
}
