package local

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zot/shopsync/internal/config"
)

// SQLiteBackend keeps the profile in a SQLite file. Every change bumps a
// global revision and records its writer, so other processes sharing the
// file can poll for changes they did not make. Removed keys stay as
// tombstones to carry the revision.
type SQLiteBackend struct {
	config   *config.Config
	db       *sql.DB
	writer   string
	interval time.Duration

	mu       sync.Mutex
	watchers map[uint64]ChangeFunc
	nextID   uint64
	lastRev  int64
	polling  bool
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSQLiteBackend opens or creates the database at path.
func NewSQLiteBackend(cfg *config.Config, path string) (*SQLiteBackend, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	interval := cfg.Local.PollInterval.Duration()
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := &SQLiteBackend{
		config:   cfg,
		db:       db,
		writer:   uuid.NewString(),
		interval: interval,
		watchers: make(map[uint64]ChangeFunc),
		done:     make(chan struct{}),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("local: init %s: %w", path, err)
	}
	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteBackend) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			present INTEGER NOT NULL DEFAULT 1,
			rev INTEGER NOT NULL,
			writer TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS kv_rev ON kv(rev);
	`)
	return err
}

// Writer returns the id stamped on this backend's changes.
func (s *SQLiteBackend) Writer() string {
	return s.writer
}

func (s *SQLiteBackend) Get(key string) (string, bool, error) {
	var value string
	var present bool
	err := s.db.QueryRow("SELECT value, present FROM kv WHERE key = ?", key).Scan(&value, &present)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !present {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteBackend) Set(key, value string) error {
	return s.put(key, value, true)
}

func (s *SQLiteBackend) Remove(key string) error {
	return s.put(key, "", false)
}

func (s *SQLiteBackend) put(key, value string, present bool) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, present, rev, writer)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM kv), ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			present = excluded.present,
			rev = excluded.rev,
			writer = excluded.writer
	`, key, value, present, s.writer)
	if err != nil {
		return fmt.Errorf("local: write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteBackend) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv WHERE present = 1 ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Watch starts polling on first use.
func (s *SQLiteBackend) Watch(fn ChangeFunc) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.polling {
		if err := s.db.QueryRow("SELECT COALESCE(MAX(rev), 0) FROM kv").Scan(&s.lastRev); err != nil {
			return nil, fmt.Errorf("local: read revision: %w", err)
		}
		s.polling = true
		s.wg.Add(1)
		go s.pollLoop()
		s.config.Log(1, "local: polling sqlite every %s", s.interval)
	}
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

func (s *SQLiteBackend) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.poll(); err != nil {
				s.config.Log(0, "local: poll: %v", err)
			}
		}
	}
}

type change struct {
	key     string
	value   string
	present bool
}

// poll reports rows newer than the last seen revision written by others.
func (s *SQLiteBackend) poll() error {
	s.mu.Lock()
	since := s.lastRev
	s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT key, value, present, rev, writer FROM kv WHERE rev > ? ORDER BY rev
	`, since)
	if err != nil {
		return err
	}
	var changes []change
	last := since
	for rows.Next() {
		var c change
		var rev int64
		var writer string
		if err := rows.Scan(&c.key, &c.value, &c.present, &rev, &writer); err != nil {
			rows.Close()
			return err
		}
		last = rev
		if writer != s.writer {
			changes = append(changes, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	s.mu.Lock()
	s.lastRev = last
	watchers := make([]ChangeFunc, 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.config.Log(3, "local: external change to %s (present=%v)", c.key, c.present)
		for _, fn := range watchers {
			fn(c.key, c.value, c.present)
		}
	}
	return nil
}

// Close stops polling and closes the database.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
