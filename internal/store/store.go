// Package store persists the canonical tab collection, per-client
// bindings, and the delivery ledgers in sqlite. Every protocol call runs
// inside a single transaction obtained from Begin; the helpers in this
// package all operate on that transaction.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const tabIDPrefix = "tab-"

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
}

// Tab is a canonical tab row. Position is nil when the tab is closed.
type Tab struct {
	ID           string
	Position     *int
	URL          string
	LastModified time.Time
}

// Binding links one client's local tab id to a canonical tab. Position
// mirrors the canonical tab's position as last synchronized with that
// client.
type Binding struct {
	ID       int64
	ClientID string
	LocalID  int64
	Position int
	TabID    string
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Serialize writers at the connection level; the coordinator's
	// critical section already serializes protocol calls.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an existing connection (tests use an in-memory database).
func OpenDB(conn *sql.DB) (*Store, error) {
	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.conn.Exec(Schema())
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Schema returns the DDL for all tables.
func Schema() string {
	return `
	CREATE TABLE IF NOT EXISTS tabs (
		id            TEXT PRIMARY KEY,
		position      INTEGER,
		url           TEXT NOT NULL DEFAULT '',
		last_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tabs_open_position
		ON tabs(position) WHERE position IS NOT NULL;

	CREATE TABLE IF NOT EXISTS bindings (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id       TEXT NOT NULL,
		client_local_id INTEGER NOT NULL,
		position        INTEGER NOT NULL,
		tab_id          TEXT NOT NULL REFERENCES tabs(id),
		UNIQUE(client_id, client_local_id),
		UNIQUE(client_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_bindings_tab ON bindings(tab_id);

	CREATE TABLE IF NOT EXISTS processed_ops (
		client_id    TEXT NOT NULL,
		op_id        TEXT NOT NULL,
		processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, op_id)
	);

	CREATE TABLE IF NOT EXISTS pending_creates (
		correlation_id TEXT PRIMARY KEY,
		payload        JSON NOT NULL,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
}

// Begin starts a transaction.
func (s *Store) Begin() (*sql.Tx, error) {
	return s.conn.Begin()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// NewTabID generates a canonical tab id.
func NewTabID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return tabIDPrefix + hex.EncodeToString(buf)
}
