// Package store provides SQLite-backed persistence for the dashboard: the
// last-known-good feature snapshot per project and a journal of issued commands.
package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the local persistence layer.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Last-known-good feature list per project
	CREATE TABLE IF NOT EXISTS feature_snapshots (
		project     TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		passing     INTEGER NOT NULL DEFAULT 0,
		total       INTEGER NOT NULL DEFAULT 0,
		fetched_at  INTEGER NOT NULL
	);

	-- Agent command journal
	CREATE TABLE IF NOT EXISTS commands (
		id            TEXT PRIMARY KEY,
		project       TEXT NOT NULL,
		command       TEXT NOT NULL,
		status_before TEXT NOT NULL,
		status_after  TEXT,
		outcome       TEXT NOT NULL,   -- rejected | sent | failed | confirmed | unconfirmed
		error         TEXT,
		issued_at     INTEGER NOT NULL,
		resolved_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_commands_project ON commands(project, issued_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
