package local

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zot/shopsync/internal/config"
)

// ChangeHandler receives another writer's change to a key. value is nil
// when the key was removed.
type ChangeHandler func(value json.RawMessage)

// Store is the JSON view of a Backend under a key prefix.
// Read failures are logged and reported as absence; write failures are
// logged and leave the previous value in place.
type Store struct {
	config   *config.Config
	backend  Backend
	prefix   string
	maxBytes int

	mu        sync.Mutex
	subs      map[string]map[uint64]ChangeHandler
	nextID    uint64
	stopWatch func()
}

// NewStore wraps backend using the prefix and quota from cfg.Local.
func NewStore(cfg *config.Config, backend Backend) *Store {
	return &Store{
		config:   cfg,
		backend:  backend,
		prefix:   cfg.Local.Prefix,
		maxBytes: cfg.Local.MaxValueBytes,
		subs:     make(map[string]map[uint64]ChangeHandler),
	}
}

// Prefix returns the namespace prepended to every key.
func (s *Store) Prefix() string {
	return s.prefix
}

// Read returns the stored JSON for key. A missing key, a stored null or an
// unparsable value all report ok=false.
func (s *Store) Read(key string) (json.RawMessage, bool) {
	raw, ok, err := s.backend.Get(s.prefix + key)
	if err != nil {
		s.config.Log(0, "local: error reading %q: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	value, ok := s.decode(key, raw)
	if ok {
		s.config.Log(4, "local: read %s = %s", key, raw)
	}
	return value, ok
}

// ReadInto decodes the stored value into v.
func (s *Store) ReadInto(key string, v any) bool {
	data, ok := s.Read(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.config.Log(0, "local: error decoding %q: %v", key, err)
		return false
	}
	return true
}

func (s *Store) decode(key, raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if !json.Valid([]byte(trimmed)) {
		s.config.Log(0, "local: error parsing %q: invalid JSON", key)
		return nil, false
	}
	if trimmed == "null" {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// Write encodes value as JSON and persists it before returning.
// The error is also logged; callers may ignore it.
func (s *Store) Write(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.config.Log(0, "local: error writing %q: %v", key, err)
		return fmt.Errorf("local: encode %s: %w", key, err)
	}
	if s.maxBytes > 0 && len(s.prefix)+len(key)+len(data) > s.maxBytes {
		s.config.Log(0, "local: error writing %q: %v", key, ErrQuotaExceeded)
		return fmt.Errorf("local: %s: %w", key, ErrQuotaExceeded)
	}
	if err := s.backend.Set(s.prefix+key, string(data)); err != nil {
		s.config.Log(0, "local: error writing %q: %v", key, err)
		return err
	}
	s.config.Log(3, "local: wrote %s", key)
	s.config.Log(4, "local: %s = %s", key, data)
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	if err := s.backend.Remove(s.prefix + key); err != nil {
		s.config.Log(0, "local: error removing %q: %v", key, err)
		return err
	}
	s.config.Log(3, "local: removed %s", key)
	return nil
}

// Keys lists the stored keys under the prefix, without it.
func (s *Store) Keys() ([]string, error) {
	all, err := s.backend.Keys()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, key := range all {
		if strings.HasPrefix(key, s.prefix) {
			keys = append(keys, strings.TrimPrefix(key, s.prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Subscribe observes changes to key made by other writers. Unparsable
// values are logged and skipped. The returned function is idempotent.
func (s *Store) Subscribe(key string, fn ChangeHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopWatch == nil {
		stop, err := s.backend.Watch(s.dispatch)
		if err != nil {
			s.config.Log(0, "local: cannot observe changes: %v", err)
		} else {
			s.stopWatch = stop
		}
	}
	s.nextID++
	id := s.nextID
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]ChangeHandler)
	}
	s.subs[key][id] = fn
	s.config.Log(3, "local: observing %s", key)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

// dispatch routes a backend change to the key's subscribers.
func (s *Store) dispatch(fullKey, raw string, present bool) {
	if !strings.HasPrefix(fullKey, s.prefix) {
		return
	}
	key := strings.TrimPrefix(fullKey, s.prefix)

	s.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(s.subs[key]))
	ids := make([]uint64, 0, len(s.subs[key]))
	for id := range s.subs[key] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, s.subs[key][id])
	}
	s.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	var value json.RawMessage
	if present {
		var ok bool
		if value, ok = s.decode(key, raw); !ok && strings.TrimSpace(raw) != "null" {
			return
		}
	}
	for _, fn := range handlers {
		fn(value)
	}
}

// Close stops observing and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.subs = make(map[string]map[uint64]ChangeHandler)
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return s.backend.Close()
}
