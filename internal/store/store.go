// Package store persists the index in SQLite with an FTS5 shadow table.
//
// The database is disposable: it regenerates from the workspace root.
// Uses modernc.org/sqlite (pure Go, no CGO) with WAL mode.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// SchemaVersion identifies the current index layout.
const SchemaVersion = "1.0"

const schemaSQL = `
-- Index schema v1.0. Disposable: regenerates from the workspace root.

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL UNIQUE,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);

-- Documents table
CREATE TABLE IF NOT EXISTS documents (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id   INTEGER NOT NULL,
    path         TEXT NOT NULL UNIQUE,
    folder       TEXT NOT NULL,
    filename     TEXT NOT NULL,
    type         TEXT,
    status       TEXT,
    owner        TEXT,
    tags         TEXT,
    content_hash TEXT NOT NULL,
    mtime        REAL NOT NULL,
    updated      TEXT,
    indexed_at   TEXT NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);
CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_mtime ON documents(mtime DESC);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_project_folder ON documents(project_id, folder);

-- Chunks table
CREATE TABLE IF NOT EXISTS chunks (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id         INTEGER NOT NULL,
    heading             TEXT,
    heading_level       INTEGER DEFAULT 0,
    content             TEXT NOT NULL,
    chunk_order         INTEGER NOT NULL,
    char_offset         INTEGER NOT NULL,
    is_priority_heading INTEGER DEFAULT 0,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document_order ON chunks(document_id, chunk_order);
CREATE INDEX IF NOT EXISTS idx_chunks_heading ON chunks(heading);
CREATE INDEX IF NOT EXISTS idx_chunks_priority ON chunks(is_priority_heading) WHERE is_priority_heading = 1;

-- FTS5 shadow table over chunks
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    heading,
    content='chunks',
    content_rowid='id'
);

-- Triggers to keep FTS5 synchronized
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content, heading)
    VALUES (NEW.id, NEW.content, NEW.heading);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, heading)
    VALUES ('delete', OLD.id, OLD.content, OLD.heading);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, heading)
    VALUES ('delete', OLD.id, OLD.content, OLD.heading);
    INSERT INTO chunks_fts(rowid, content, heading)
    VALUES (NEW.id, NEW.content, NEW.heading);
END;

-- Webhook subscriptions
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    url         TEXT NOT NULL,
    secret      TEXT NOT NULL,
    event_types TEXT NOT NULL,
    project     TEXT,
    description TEXT,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_project ON webhook_subscriptions(project);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_active ON webhook_subscriptions(active);

-- Webhook delivery audit log
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    subscription_id INTEGER NOT NULL,
    event_type      TEXT NOT NULL,
    event_id        TEXT NOT NULL,
    payload         TEXT NOT NULL,
    status_code     INTEGER,
    success         INTEGER NOT NULL,
    error_message   TEXT,
    delivered_at    TEXT NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (subscription_id) REFERENCES webhook_subscriptions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_subscription ON webhook_deliveries(subscription_id);

-- Metadata table for index versioning
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`

// Store owns the SQLite index. A single internal connection serializes
// access; writes additionally take the store mutex so multi-statement
// operations stay atomic with respect to each other.
type Store struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) the index database at path and
// applies the schema. An empty path opens an in-memory database for
// testing.
func Open(path string) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindFatalInit, "cannot create index directory", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatalInit, "cannot open index database", err)
	}

	// Single connection: SQLite allows one writer, and a pool of one
	// avoids lock contention entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL and friends must be set via PRAGMA for modernc.org/sqlite;
	// DSN parameters are not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(errors.KindFatalInit, "cannot set pragma", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.KindFatalInit, "cannot initialize schema", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES
		    ('schema_version', ?),
		    ('created_at', datetime('now'))`,
		SchemaVersion,
	)
	return err
}

// Close closes the underlying database. Further calls on the store
// return an error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.New(errors.KindInternal, "store is closed")
	}
	return nil
}

// Clear deletes all indexed rows and rebuilds the FTS shadow.
// Subscriptions and delivery logs survive a clear.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM chunks",
		"DELETE FROM documents",
		"DELETE FROM projects",
		"INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
	}

	return tx.Commit()
}

// RebuildFTS rebuilds the FTS5 shadow from the chunks table.
func (s *Store) RebuildFTS(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')")
	return err
}
