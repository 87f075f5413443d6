package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a SQLite storage backend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			path TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Get retrieves the value at path.
func (s *SQLiteStorage) Get(path string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM entries WHERE path = ?", path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// Put stores value at path.
func (s *SQLiteStorage) Put(path string, value json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO entries (path, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, path, string(value))
	return err
}

// Delete removes the value at path.
func (s *SQLiteStorage) Delete(path string) error {
	_, err := s.db.Exec("DELETE FROM entries WHERE path = ?", path)
	return err
}

// List returns the stored paths with the given prefix.
func (s *SQLiteStorage) List(prefix string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT path FROM entries WHERE path LIKE ? ESCAPE '\' ORDER BY path
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// Clear removes all data.
func (s *SQLiteStorage) Clear() error {
	_, err := s.db.Exec("DELETE FROM entries")
	return err
}

// Close closes the storage backend.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// escapeLike escapes LIKE wildcards so prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
