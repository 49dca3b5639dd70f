package io

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"
	"despesas-etl/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the part of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it too.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// newPgxPoolFunc opens the pool; tests may override it.
var newPgxPoolFunc = func(ctx context.Context, connStr string) (pgxPool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Default connect timeout.
const defaultDbTimeout = 30 * time.Second

// PostgresStore keeps the expenses table in PostgreSQL.
type PostgresStore struct {
	pool  pgxPool
	table string // sanitized, possibly schema-qualified
	index string
}

// NewPostgresStore connects to connStr (environment variables expanded) and
// verifies the connection.
func NewPostgresStore(ctx context.Context, connStr, table string) (*PostgresStore, error) {
	expanded := util.ExpandEnvUniversal(connStr)
	masked := util.MaskCredentials(expanded)

	connectCtx, cancel := context.WithTimeout(ctx, defaultDbTimeout)
	defer cancel()

	pool, err := newPgxPoolFunc(connectCtx, expanded)
	if err != nil {
		logging.Logf(logging.Error, "PostgresStore failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("postgres: create connection pool (using %s): %w", masked, err)
	}
	if _, err := pool.Exec(connectCtx, "SELECT 1"); err != nil {
		pool.Close()
		if errors.Is(err, context.DeadlineExceeded) || connectCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("postgres: connection to %s timed out: %w", masked, err)
		}
		return nil, fmt.Errorf("postgres: connect to %s: %w", masked, describePgError(err))
	}
	logging.Logf(logging.Info, "Connected to PostgreSQL at %s", masked)
	return newPostgresStoreWithPool(pool, table), nil
}

func newPostgresStoreWithPool(pool pgxPool, table string) *PostgresStore {
	schema, name := splitTable(table)
	ident := pgx.Identifier{name}
	if schema != "" {
		ident = pgx.Identifier{schema, name}
	}
	return &PostgresStore{
		pool:  pool,
		table: ident.Sanitize(),
		index: pgx.Identifier{"idx_" + name + "_arquivo"}.Sanitize(),
	}
}

// Name implements Store.
func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) migrationStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	id             BIGSERIAL PRIMARY KEY,
	cnpj           TEXT NOT NULL DEFAULT '',
	razao_social   TEXT NOT NULL DEFAULT '',
	trimestre      SMALLINT,
	ano            INTEGER,
	valor_despesas NUMERIC(18,2) NOT NULL DEFAULT 0,
	arquivo        TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS ` + s.index + ` ON ` + s.table + ` (arquivo)`,
	}
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.migrationStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", describePgError(err))
		}
	}
	return nil
}

// BeginTx implements Store.
func (s *PostgresStore) BeginTx(ctx context.Context) (StoreTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("postgres: timed out starting transaction: %w", err)
		}
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &postgresTx{tx: tx, table: s.table}, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx    pgx.Tx
	table string
}

func (t *postgresTx) DeleteSource(ctx context.Context, sourceFile string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+t.table+` WHERE arquivo = $1`, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rows of '%s': %w", sourceFile, describePgError(err))
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) InsertBatch(ctx context.Context, recs []transform.Record) (int64, error) {
	query := buildInsertSQL(t.table, len(recs), func(i int) string { return "$" + strconv.Itoa(i) })
	tag, err := t.tx.Exec(ctx, query, recordArgs(recs)...)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %d rows: %w", len(recs), describePgError(err))
	}
	if tag.RowsAffected() != int64(len(recs)) {
		logging.Logf(logging.Warning, "PostgresStore: expected to insert %d rows into %s, driver reported %d", len(recs), t.table, tag.RowsAffected())
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback uses a fresh context so a cancelled run still releases the
// transaction.
func (t *postgresTx) Rollback(_ context.Context) error {
	rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// describePgError adds the server's code and detail to PostgreSQL errors.
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w (code %s, detail: %s)", err, pgErr.Code, pgErr.Detail)
	}
	return err
}
