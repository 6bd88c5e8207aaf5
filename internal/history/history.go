// Package history persists delivered results in a capacity-bounded sqlite
// table. When the table is full the oldest entries are evicted first.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultCapacity is used when Open is given a non-positive capacity.
const DefaultCapacity = 100

// schemaVersion is the latest schema version; bump it when adding migrations.
const schemaVersion = 1

// Entry is one stored result.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	TemplateID string    `json:"template_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the clipboard-history table. Writes are serialized.
type Store struct {
	db       *sql.DB
	capacity int
	mu       sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)

	return &Store{db: db, capacity: capacity}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS history (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  run_id      TEXT NOT NULL,
		  session_id  TEXT,
		  template_id TEXT,
		  kind        TEXT NOT NULL,
		  text        TEXT NOT NULL,
		  created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
	}

	if version < schemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}
	return nil
}

// Add stores e and evicts the oldest entries beyond capacity. It returns the
// new entry's ID.
func (s *Store) Add(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin history insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO history (run_id, session_id, template_id, kind, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.SessionID, e.TemplateID, e.Kind, e.Text, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM history WHERE id NOT IN (
		  SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, s.capacity)
	if err != nil {
		return 0, fmt.Errorf("evict history entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history insert: %w", err)
	}
	return id, nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.capacity
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, COALESCE(session_id, ''), COALESCE(template_id, ''), kind, text, created_at
		FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.SessionID, &e.TemplateID, &e.Kind, &e.Text, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM history")
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// Capacity returns the maximum number of retained entries.
func (s *Store) Capacity() int { return s.capacity }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
