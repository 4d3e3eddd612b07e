// Package storage opens the shared SQLite database and applies the schema.
//
// SQLite is the system of record for everything mutable and enumerable:
// memory chunk state, behavior patterns, learning candidates, conversation
// logs and the tenant product catalog. The vector store only holds
// embeddings for similarity search; rows here always win on disagreement.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps the shared SQLite handle.
type DB struct {
	sql    *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	db, err := sql.Open("sqlite", expanded+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	d := &DB{sql: db, logger: logger}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", expanded))
	return d, nil
}

// SQL exposes the underlying handle to repositories.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_chunks (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		content          TEXT NOT NULL,
		source           TEXT NOT NULL DEFAULT '',
		relevance        REAL NOT NULL DEFAULT 1.0,
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON memory_chunks(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_tenant_relevance ON memory_chunks(tenant_id, relevance);

	CREATE TABLE IF NOT EXISTS behavior_patterns (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		trigger_text TEXT NOT NULL,
		response     TEXT NOT NULL,
		confidence   REAL NOT NULL,
		origin       TEXT NOT NULL DEFAULT 'learned',
		usage_count  INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		last_used_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_tenant ON behavior_patterns(tenant_id);

	CREATE TABLE IF NOT EXISTS learning_candidates (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		trigger_text   TEXT NOT NULL,
		response       TEXT NOT NULL,
		dedup_hash     TEXT NOT NULL,
		evidence_count INTEGER NOT NULL,
		confidence     REAL NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		created_at     TEXT NOT NULL,
		decided_at     TEXT,
		UNIQUE (tenant_id, dedup_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_tenant_status ON learning_candidates(tenant_id, status);

	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'open',
		created_at TEXT NOT NULL,
		closed_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_tenant_status ON conversations(tenant_id, status);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		price      REAL NOT NULL,
		currency   TEXT NOT NULL DEFAULT 'BRL',
		active     INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id, active);
	`
	_, err := d.sql.Exec(schema)
	return err
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// FormatTime renders a timestamp the way every table stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored timestamp. Zero time on empty input.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
