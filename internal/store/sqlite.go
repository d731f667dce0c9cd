// Package store provides SQLite-backed persistence for the Quill host:
// the pending queue snapshot, commit log, conversation history, usage
// ledger, and per-path content digests.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS queue_snapshot (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	payload_json TEXT NOT NULL DEFAULT '{}',
	updated_at   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS commit_log (
	id          TEXT PRIMARY KEY,
	paths_json  TEXT NOT NULL DEFAULT '[]',
	explanation TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commit_log_created ON commit_log(created_at);

CREATE TABLE IF NOT EXISTS conversation (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	archived     INTEGER NOT NULL DEFAULT 0,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_live ON conversation(archived, id);

CREATE TABLE IF NOT EXISTS usage_ledger (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	kind              TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS path_digests (
	path       TEXT PRIMARY KEY,
	digest     TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
