// Package storage opens the sqlite database that backs the run queue and
// build history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. File databases must live on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := checkLocalFilesystem(path, detectFilesystemType); err != nil {
			return nil, err
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables and indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_queue (
  id            TEXT PRIMARY KEY,
  pipeline      TEXT NOT NULL,
  trigger_origin TEXT NOT NULL,
  payload       JSON,
  variables     JSON,
  status        TEXT NOT NULL,
  submitted_by  TEXT NOT NULL,
  created_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS run_history (
  id             TEXT PRIMARY KEY,
  pipeline_name  TEXT NOT NULL,
  pipeline_path  TEXT,
  fingerprint    TEXT,
  status         TEXT NOT NULL,
  started_at     TEXT NOT NULL,
  finished_at    TEXT,
  duration_ms    INTEGER NOT NULL DEFAULT 0,
  error          TEXT
);`,
		`CREATE TABLE IF NOT EXISTS run_history_steps (
  run_id       TEXT NOT NULL REFERENCES run_history(id) ON DELETE CASCADE,
  position     INTEGER NOT NULL,
  uid          TEXT NOT NULL,
  plugin_id    TEXT NOT NULL,
  node_id      TEXT NOT NULL,
  status       TEXT NOT NULL,
  started_at   TEXT NOT NULL,
  finished_at  TEXT,
  outputs      JSON NOT NULL DEFAULT '{}',
  logs         JSON NOT NULL DEFAULT '[]',
  error        TEXT,
  PRIMARY KEY (run_id, position)
);`,
		`CREATE INDEX IF NOT EXISTS run_queue_status_created_at_idx ON run_queue(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS run_history_pipeline_started_idx ON run_history(pipeline_name, started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
