package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the taint fact tables.
type Store struct {
	db *sql.DB
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
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all fact tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RequiredTables must exist for an analysis to be meaningful. An empty table
// is fine; a missing one means the indexer never ran or failed midway.
var RequiredTables = []string{
	"symbols",
	"function_call_args",
	"assignments",
	"function_returns",
}

// OptionalTables enrich the analysis when present.
var OptionalTables = []string{
	"function_parameters",
	"assignment_sources",
	"function_return_sources",
	"cfg_blocks",
	"cfg_edges",
}

// Tables reports which fact tables exist in the database.
func (s *Store) Tables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables[name] = true
	}
	return tables, rows.Err()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL,
  qualified_name  TEXT,
  kind            TEXT NOT NULL,
  file            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  end_line        INTEGER
);

CREATE TABLE IF NOT EXISTS function_parameters (
  id              INTEGER PRIMARY KEY,
  symbol_id       INTEGER NOT NULL REFERENCES symbols(id),
  name            TEXT NOT NULL,
  ordinal         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS function_call_args (
  id              INTEGER PRIMARY KEY,
  file            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  caller_function TEXT NOT NULL,
  callee_function TEXT NOT NULL,
  argument_index  INTEGER NOT NULL,
  argument_expr   TEXT,
  param_name      TEXT,
  callee_file     TEXT
);

CREATE TABLE IF NOT EXISTS assignments (
  id              INTEGER PRIMARY KEY,
  file            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  target_var      TEXT NOT NULL,
  source_expr     TEXT,
  in_function     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignment_sources (
  id              INTEGER PRIMARY KEY,
  assignment_id   INTEGER NOT NULL REFERENCES assignments(id),
  source_var      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS function_returns (
  id              INTEGER PRIMARY KEY,
  file            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  function_name   TEXT NOT NULL,
  return_expr     TEXT
);

CREATE TABLE IF NOT EXISTS function_return_sources (
  id              INTEGER PRIMARY KEY,
  return_id       INTEGER NOT NULL REFERENCES function_returns(id),
  return_var      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cfg_blocks (
  id              INTEGER PRIMARY KEY,
  file            TEXT NOT NULL,
  function_name   TEXT NOT NULL,
  block_type      TEXT NOT NULL,
  start_line      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  condition_expr  TEXT
);

CREATE TABLE IF NOT EXISTS cfg_edges (
  id              INTEGER PRIMARY KEY,
  file            TEXT NOT NULL,
  function_name   TEXT NOT NULL,
  source_block_id INTEGER NOT NULL REFERENCES cfg_blocks(id),
  target_block_id INTEGER NOT NULL REFERENCES cfg_blocks(id),
  edge_type       TEXT
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file);
CREATE INDEX IF NOT EXISTS idx_function_params_symbol ON function_parameters(symbol_id);
CREATE INDEX IF NOT EXISTS idx_call_args_caller ON function_call_args(file, caller_function);
CREATE INDEX IF NOT EXISTS idx_call_args_callee ON function_call_args(callee_function);
CREATE INDEX IF NOT EXISTS idx_assignments_function ON assignments(file, in_function);
CREATE INDEX IF NOT EXISTS idx_assignment_sources_assignment ON assignment_sources(assignment_id);
CREATE INDEX IF NOT EXISTS idx_returns_function ON function_returns(file, function_name);
CREATE INDEX IF NOT EXISTS idx_return_sources_return ON function_return_sources(return_id);
CREATE INDEX IF NOT EXISTS idx_cfg_blocks_function ON cfg_blocks(file, function_name);
CREATE INDEX IF NOT EXISTS idx_cfg_edges_function ON cfg_edges(file, function_name);
`

// DeleteFileData transactionally removes all facts recorded for a file.
// Deletes in reverse-dependency order to respect FK constraints.
func (s *Store) DeleteFileData(file string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM function_parameters WHERE symbol_id IN (SELECT id FROM symbols WHERE file = ?)",
		"DELETE FROM assignment_sources WHERE assignment_id IN (SELECT id FROM assignments WHERE file = ?)",
		"DELETE FROM function_return_sources WHERE return_id IN (SELECT id FROM function_returns WHERE file = ?)",
		"DELETE FROM cfg_edges WHERE file = ?",
		"DELETE FROM cfg_blocks WHERE file = ?",
		"DELETE FROM function_returns WHERE file = ?",
		"DELETE FROM assignments WHERE file = ?",
		"DELETE FROM function_call_args WHERE file = ?",
		"DELETE FROM symbols WHERE file = ?",
	} {
		if _, err := tx.Exec(q, file); err != nil {
			return fmt.Errorf("delete file data: %w", err)
		}
	}

	return tx.Commit()
}
