// Package eventlog persists dispatcher events to a local SQLite database so
// listen sessions can be recorded and inspected later.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrLocked reports that another process is already recording to the same
// database.
var ErrLocked = errors.New("eventlog: database locked by another process")

// Entry is one recorded event.
type Entry struct {
	ID         int64
	Name       string
	Args       json.RawMessage
	ReceivedAt time.Time
}

// Store appends and queries recorded events. A process-level file lock keeps
// concurrent recorders from interleaving writes into the same database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    args_json TEXT,
    received_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_name ON events(name);
CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
`

// Open creates or opens the event database at path and takes the recorder
// lock. It fails with ErrLocked when another recorder holds the lock.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire event log lock: %w", err)
	}
	if !held {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}

	return &Store{db: db, lock: lock, path: path}, nil
}

// OpenReadOnly opens an existing event database without taking the recorder
// lock, so recordings can be inspected while a recorder is active.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Append records one event.
func (s *Store) Append(ctx context.Context, name string, args json.RawMessage) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events (name, args_json, received_at) VALUES (?, ?, ?)`,
		name,
		nullableString(string(args)),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. A non-empty name filters
// to that event name.
func (s *Store) Recent(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, name, args_json, received_at FROM events`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the total number of recorded events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Close closes the database and releases the recorder lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry       Entry
		argsRaw     sql.NullString
		receivedRaw string
	)
	if err := rows.Scan(&entry.ID, &entry.Name, &argsRaw, &receivedRaw); err != nil {
		return Entry{}, fmt.Errorf("scan event: %w", err)
	}
	if argsRaw.Valid {
		entry.Args = json.RawMessage(argsRaw.String)
	}
	if received, err := time.Parse(time.RFC3339Nano, receivedRaw); err == nil {
		entry.ReceivedAt = received
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
