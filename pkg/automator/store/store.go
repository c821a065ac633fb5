// Package store persists the four core entities (templates, tasks,
// executions, credentials) in an embedded SQLite database with ACID
// transactions, foreign-key enforcement, and the derived invariants spec.md
// §3 requires.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS),
// mirroring the teacher's single "schema" constant applied wholesale on open.
const schema = `
CREATE TABLE IF NOT EXISTS templates (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL UNIQUE,
    description          TEXT DEFAULT '',
    category             TEXT DEFAULT '',
    code                 TEXT NOT NULL DEFAULT '',
    params_schema        TEXT NOT NULL DEFAULT '[]',
    required_credentials TEXT NOT NULL DEFAULT '[]',
    suggested_schedule   TEXT DEFAULT '',
    is_builtin           INTEGER NOT NULL DEFAULT 0,
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    template_id    TEXT NOT NULL REFERENCES templates(id),
    name           TEXT NOT NULL UNIQUE,
    params         TEXT NOT NULL DEFAULT '{}',
    schedule_type  TEXT NOT NULL,
    schedule_value TEXT NOT NULL,
    credentials    TEXT NOT NULL DEFAULT '[]',
    enabled        INTEGER NOT NULL DEFAULT 1,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL,
    last_run_at    TEXT,
    next_run_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_next_run_at ON tasks(next_run_at);
CREATE INDEX IF NOT EXISTS idx_tasks_template_id ON tasks(template_id);

CREATE TABLE IF NOT EXISTS executions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    status      TEXT NOT NULL,
    output      TEXT,
    error       TEXT,
    duration_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);

CREATE TABLE IF NOT EXISTS credentials (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    name            TEXT NOT NULL UNIQUE,
    type            TEXT NOT NULL,
    description     TEXT DEFAULT '',
    created_at      TEXT NOT NULL,
    last_used_at    TEXT,
    encrypted_value TEXT
);
`

// Store wraps the SQLite connection and exposes typed repository operations.
type Store struct {
	db       *sql.DB
	path     string
	lockPath string
	lockFile *os.File
}

// Open opens (or creates) the database at path, enforces foreign keys and
// WAL mode, applies the schema, and takes an exclusive process-level file
// lock guarding against a second daemon instance writing concurrently
// (spec.md §9 "single-writer database").
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory %q: %w", dir, err)
	}

	lockPath := path + ".lock"
	lockFile, err := acquireLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		releaseLock(lockFile, lockPath)
		return nil, fmt.Errorf("store: open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		releaseLock(lockFile, lockPath)
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	// Single writer: the SQLite driver itself is safe for concurrent use,
	// but WAL mode + one connection avoids SQLITE_BUSY entirely since the
	// daemon is the only writer within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		releaseLock(lockFile, lockPath)
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db, path: path, lockPath: lockPath, lockFile: lockFile}, nil
}

// Close closes the database connection and releases the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	releaseLock(s.lockFile, s.lockPath)
	return err
}

// DB exposes the underlying handle for components (e.g. the scheduler) that
// need their own prepared statements against the same connection.
func (s *Store) DB() *sql.DB { return s.db }

// acquireLock creates an exclusive lock file, failing if one already exists
// (a second daemon instance pointed at the same data directory).
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("database is locked by another process (found %s) — remove it if no other instance is running", path)
		}
		return nil, fmt.Errorf("create lock file %q: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func releaseLock(f *os.File, path string) {
	if f != nil {
		f.Close()
	}
	os.Remove(path)
}
