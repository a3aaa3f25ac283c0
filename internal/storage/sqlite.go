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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := requireLocalFilesystem(path, detectFilesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; history writes are tiny and infrequent.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
  id               TEXT PRIMARY KEY,
  delivery_id      TEXT,
  ref              TEXT NOT NULL,
  commit_id        TEXT,
  commit_message   TEXT,
  pusher           TEXT,
  status           TEXT NOT NULL,
  exit_code        INTEGER,
  stdout           TEXT,
  stderr           TEXT,
  output_truncated INTEGER NOT NULL DEFAULT 0,
  error            TEXT,
  script           TEXT NOT NULL,
  script_hash      TEXT,
  started_at       TEXT NOT NULL,
  completed_at     TEXT,
  duration_ms      INTEGER
);`,
		`CREATE INDEX IF NOT EXISTS deployments_started_at_idx ON deployments(started_at);`,
		`CREATE INDEX IF NOT EXISTS deployments_status_idx ON deployments(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
