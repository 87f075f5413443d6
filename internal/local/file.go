package local

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/zot/shopsync/internal/config"
)

const (
	fileSuffix = ".json"
	tempPrefix = ".tmp-"
)

// FileBackend stores one file per key in a directory. Other processes
// using the same directory see each other's changes through fsnotify.
type FileBackend struct {
	config *config.Config
	dir    string

	mu       sync.Mutex
	known    map[string]string // last content this backend wrote or reported
	watchers map[uint64]ChangeFunc
	nextID   uint64
	watcher  *fsnotify.Watcher
	closed   bool

	// Debouncing
	pending       map[string]time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	done chan struct{}
}

// NewFileBackend creates dir if needed.
func NewFileBackend(cfg *config.Config, dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local: create %s: %w", dir, err)
	}
	return &FileBackend{
		config:        cfg,
		dir:           dir,
		known:         make(map[string]string),
		watchers:      make(map[uint64]ChangeFunc),
		pending:       make(map[string]time.Time),
		debounceDelay: 20 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

func (f *FileBackend) filename(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

// keyFor maps a file name back to its key; ok is false for foreign files.
func keyFor(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, tempPrefix) || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (f *FileBackend) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(f.filename(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Set writes a temporary file and renames it over the key's file.
func (f *FileBackend) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	tmp := filepath.Join(f.dir, tempPrefix+uuid.NewString())
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("local: write %s: %w", key, err)
	}
	f.known[key] = value
	if err := os.Rename(tmp, f.filename(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("local: write %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	delete(f.known, key)
	if err := os.Remove(f.filename(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local: remove %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if key, ok := keyFor(entry.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch starts the directory watcher on first use.
func (f *FileBackend) Watch(fn ChangeFunc) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.watcher == nil {
		if err := f.startLocked(); err != nil {
			return nil, err
		}
	}
	f.nextID++
	id := f.nextID
	f.watchers[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}, nil
}

func (f *FileBackend) startLocked() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("local: watch %s: %w", f.dir, err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("local: watch %s: %w", f.dir, err)
	}

	// Baseline so only later changes are reported
	keys, err := f.Keys()
	if err != nil {
		watcher.Close()
		return err
	}
	for _, key := range keys {
		if _, ok := f.known[key]; ok {
			continue
		}
		if data, err := os.ReadFile(f.filename(key)); err == nil {
			f.known[key] = string(data)
		}
	}

	f.watcher = watcher
	go f.eventLoop(watcher)
	go f.debounceLoop()
	f.config.Log(1, "local: watching %s for changes", f.dir)
	return nil
}

// eventLoop processes file system events.
func (f *FileBackend) eventLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.config.Log(0, "local: watcher error: %v", err)
		}
	}
}

func (f *FileBackend) handleEvent(event fsnotify.Event) {
	key, ok := keyFor(event.Name)
	if !ok {
		return
	}
	f.config.Log(3, "local: event %s on %s", event.Op, event.Name)
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		f.debounceMu.Lock()
		f.pending[key] = time.Now()
		f.debounceMu.Unlock()
	}
}

// debounceLoop processes pending keys after the debounce delay.
func (f *FileBackend) debounceLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.processPending()
		}
	}
}

func (f *FileBackend) processPending() {
	f.debounceMu.Lock()
	now := time.Now()
	var ready []string
	for key, queuedAt := range f.pending {
		if now.Sub(queuedAt) >= f.debounceDelay {
			ready = append(ready, key)
			delete(f.pending, key)
		}
	}
	f.debounceMu.Unlock()

	sort.Strings(ready)
	for _, key := range ready {
		f.reload(key)
	}
}

// reload compares a key's file with what this backend last saw and
// reports the difference to the watchers.
func (f *FileBackend) reload(key string) {
	data, err := os.ReadFile(f.filename(key))
	present := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.config.Log(0, "local: read %s: %v", key, err)
		return
	}
	value := string(data)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	old, had := f.known[key]
	if had == present && old == value {
		f.mu.Unlock()
		return
	}
	if present {
		f.known[key] = value
	} else {
		delete(f.known, key)
	}
	watchers := make([]ChangeFunc, 0, len(f.watchers))
	for _, fn := range f.watchers {
		watchers = append(watchers, fn)
	}
	f.mu.Unlock()

	f.config.Log(3, "local: external change to %s (present=%v)", key, present)
	for _, fn := range watchers {
		fn(key, value, present)
	}
}

// Close stops watching.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	watcher := f.watcher
	f.mu.Unlock()

	close(f.done)
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
