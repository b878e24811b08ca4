package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists key-value pairs in a local SQLite database.
// This is the default backend: durable across restarts with no
// external process to run.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (or creates) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get returns the value stored at key
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, apperrors.ErrStoreClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value at key, overwriting any previous value
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return apperrors.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if s.isClosed() {
		return apperrors.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite remove %q: %w", key, err)
	}
	return nil
}

// Keys lists every stored key
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, apperrors.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv_state ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite keys scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	return keys, nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
