// Package draft persists in-progress call input locally, keyed by a
// caller-supplied string, so half-filled forms survive process restarts.
// Backed by a single-file SQLite database; no server-side state.
package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
    key        TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`

// Store is a local draft store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the draft database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("draft: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("draft: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("draft: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a draft payload under key.
func (s *Store) Save(ctx context.Context, key string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("draft: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("draft: save %q: %w", key, err)
	}
	return nil
}

// Load returns the draft stored under key, or ok=false when absent.
func (s *Store) Load(ctx context.Context, key string) (map[string]any, bool, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM drafts WHERE key = ?`, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("draft: load %q: %w", key, err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		return nil, false, fmt.Errorf("draft: decode %q: %w", key, err)
	}
	return payload, true, nil
}

// Delete removes a draft. No error when the key is absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("draft: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists all stored draft keys, most recently updated first.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM drafts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("draft: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("draft: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("draft: list keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
