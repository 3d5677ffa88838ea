package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the knowledge graph: generic
// node and edge tables plus bookkeeping for files, unresolved references
// and build runs.
type Store struct {
	db         *sql.DB
	maxRetries uint64
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, maxRetries: defaultMaxRetries}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetMaxRetries overrides the bounded retry count for batch commits.
func (s *Store) SetMaxRetries(n uint64) {
	s.maxRetries = n
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NodeCols is the column list matching scanNode's scan order.
const NodeCols = "id, kind, name, qualified_name, file_path, language, visibility, start_line, end_line, signature, return_type, modifiers"

const schemaDDL = `
-- Graph tables

CREATE TABLE IF NOT EXISTS nodes (
  id              TEXT PRIMARY KEY,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  qualified_name  TEXT NOT NULL,
  file_path       TEXT NOT NULL DEFAULT '',
  language        TEXT NOT NULL DEFAULT '',
  visibility      TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  signature       TEXT NOT NULL DEFAULT '',
  return_type     TEXT NOT NULL DEFAULT '',
  modifiers       TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS edges (
  id              INTEGER PRIMARY KEY,
  source_id       TEXT NOT NULL REFERENCES nodes(id),
  kind            TEXT NOT NULL,
  target_id       TEXT NOT NULL REFERENCES nodes(id),
  target_qname    TEXT NOT NULL DEFAULT '',
  line            INTEGER NOT NULL DEFAULT 0,
  alias           TEXT NOT NULL DEFAULT '',
  UNIQUE(source_id, kind, target_id, line)
);

-- Bookkeeping tables

CREATE TABLE IF NOT EXISTS unresolved_references (
  id              INTEGER PRIMARY KEY,
  source_id       TEXT NOT NULL,
  source_file     TEXT NOT NULL,
  target_name     TEXT NOT NULL,
  kind            TEXT NOT NULL,
  line            INTEGER NOT NULL DEFAULT 0,
  reason          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  language        TEXT NOT NULL,
  hash            TEXT NOT NULL,
  lines           INTEGER NOT NULL DEFAULT 0,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS builds (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL,
  generation      INTEGER NOT NULL,
  started_at      TIMESTAMP,
  finished_at     TIMESTAMP,
  files_indexed   INTEGER NOT NULL DEFAULT 0,
  files_failed    INTEGER NOT NULL DEFAULT 0,
  files_skipped   INTEGER NOT NULL DEFAULT 0,
  total_lines     INTEGER NOT NULL DEFAULT 0,
  nodes_upserted  INTEGER NOT NULL DEFAULT 0,
  edges_upserted  INTEGER NOT NULL DEFAULT 0,
  unresolved      INTEGER NOT NULL DEFAULT 0,
  external        INTEGER NOT NULL DEFAULT 0,
  violations      INTEGER NOT NULL DEFAULT 0,
  failed_batches  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meta (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);
CREATE INDEX IF NOT EXISTS idx_nodes_qname ON nodes(qualified_name);
CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_visibility ON nodes(visibility);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(kind);
CREATE INDEX IF NOT EXISTS idx_edges_target_qname ON edges(target_qname);
CREATE INDEX IF NOT EXISTS idx_unresolved_file ON unresolved_references(source_file);
CREATE INDEX IF NOT EXISTS idx_unresolved_target ON unresolved_references(target_name);
CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);
`
