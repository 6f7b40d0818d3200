// Package store provides the crash-durable local state of the sync engine:
// the mutation queue, the materialized cache of remote resources, and the
// conflict ledger. All three live in one SQLite database but are never
// written by more than one logical owner at a time.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "offsync.db"

// Store wraps the SQLite database holding queue, cache, and ledger.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens an existing database. Fails if it has not been initialized.
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'offsync init' first")
	}
	return open(dbPath)
}

// Initialize creates the database directory and schema, then opens it.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(dbPath)
}

func open(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn, path: dbPath}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewWithConn wraps an existing connection (used by tests with in-memory
// databases) and ensures the schema exists.
func NewWithConn(conn *sql.DB) (*Store, error) {
	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	_, err := s.conn.Exec(`
		INSERT INTO schema_info (version)
		SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_info)`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for callers that need transactions.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// formatTime stores timestamps as RFC3339Nano text for lossless round-trips.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", v)
}
