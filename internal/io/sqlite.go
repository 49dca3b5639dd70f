package io

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the expenses table in an embedded SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (creating if needed) the database at dsn.
func NewSQLiteStore(dsn, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open '%s': %w", dsn, err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	logging.Logf(logging.Debug, "SQLiteStore opened '%s'", dsn)
	return &SQLiteStore{db: db, table: table}, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) migrationStatements() []string {
	schema, name := splitTable(s.table)
	indexName := "idx_" + name + "_arquivo"
	if schema != "" {
		indexName = schema + "." + indexName
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cnpj           TEXT NOT NULL DEFAULT '',
	razao_social   TEXT NOT NULL DEFAULT '',
	trimestre      INTEGER,
	ano            INTEGER,
	valor_despesas NUMERIC NOT NULL DEFAULT 0,
	arquivo        TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS ` + indexName + ` ON ` + name + ` (arquivo)`,
	}
}

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.migrationStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// BeginTx implements Store.
func (s *SQLiteStore) BeginTx(ctx context.Context) (StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &sqliteTx{tx: tx, table: s.table}, nil
}

// DB exposes the handle for inspection by callers such as tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	table string
}

func (t *sqliteTx) DeleteSource(ctx context.Context, sourceFile string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE arquivo = ?`, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete rows of '%s': %w", sourceFile, err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) InsertBatch(ctx context.Context, recs []transform.Record) (int64, error) {
	query := buildInsertSQL(t.table, len(recs), func(int) string { return "?" })
	res, err := t.tx.ExecContext(ctx, query, recordArgs(recs)...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert %d rows: %w", len(recs), err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

// Rollback tolerates a transaction database/sql already rolled back because
// its context was cancelled.
func (t *sqliteTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// splitTable separates an optional schema prefix from a table name.
func splitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
