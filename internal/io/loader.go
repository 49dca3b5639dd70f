package io

import (
	"context"
	"fmt"
	"strings"

	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"
)

// Store is a relational database holding the canonical expenses table.
type Store interface {
	// Name identifies the store in logs ("sqlite", "postgres").
	Name() string
	// Migrate creates the table and its index if absent.
	Migrate(ctx context.Context) error
	// BeginTx opens the transaction of one source file.
	BeginTx(ctx context.Context) (StoreTx, error)
	Close() error
}

// StoreTx is a transaction of a Store.
type StoreTx interface {
	// DeleteSource removes rows previously loaded from sourceFile.
	DeleteSource(ctx context.Context, sourceFile string) (int64, error)
	// InsertBatch inserts recs with a single statement.
	InsertBatch(ctx context.Context, recs []transform.Record) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// recordColumns is the column order of every insert.
var recordColumns = []string{"cnpj", "razao_social", "trimestre", "ano", "valor_despesas", "arquivo"}

// recordArgs flattens recs into insert parameters. Quarter and year are NULL
// when the date was unparseable.
func recordArgs(recs []transform.Record) []interface{} {
	args := make([]interface{}, 0, len(recs)*len(recordColumns))
	for _, rec := range recs {
		var quarter, year interface{}
		if rec.Period.Valid() {
			quarter, year = rec.Period.Quarter, rec.Period.Year
		}
		args = append(args, rec.ProviderID, rec.EntityName, quarter, year, rec.Value().StringFixed(2), rec.SourceFile)
	}
	return args
}

// buildInsertSQL renders a multi-row INSERT for n records. placeholder maps
// a 1-based parameter position to its bind marker.
func buildInsertSQL(table string, n int, placeholder func(int) string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(recordColumns, ", "))
	b.WriteString(") VALUES ")
	p := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range recordColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(p))
			p++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// BatchLoader is the relational sink. Records are staged and inserted with
// one statement every batchSize records; each source file is one
// transaction, committed after its last flush.
type BatchLoader struct {
	store           Store
	batchSize       int
	replaceExisting bool

	tx         StoreTx
	sourceFile string
	pending    []transform.Record
	inFile     int
	stats      Stats
}

// NewBatchLoader migrates the store and returns a loader over it. A failing
// migration is a run-level error.
func NewBatchLoader(ctx context.Context, store Store, batchSize int, replaceExisting bool) (*BatchLoader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s schema creation failed: %w", ErrSink, store.Name(), err)
	}
	logging.Logf(logging.Debug, "BatchLoader ready on %s (batch size %d, replace existing %t)", store.Name(), batchSize, replaceExisting)
	return &BatchLoader{
		store:           store,
		batchSize:       batchSize,
		replaceExisting: replaceExisting,
		pending:         make([]transform.Record, 0, batchSize),
	}, nil
}

// Begin opens the transaction for sourceFile and, when configured, deletes
// rows a previous run loaded from the same file.
func (l *BatchLoader) Begin(ctx context.Context, sourceFile string) error {
	if l.tx != nil {
		return fmt.Errorf("%w: %s transaction for '%s' still open", ErrSink, l.store.Name(), l.sourceFile)
	}
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s failed to begin transaction for '%s': %w", ErrSink, l.store.Name(), sourceFile, err)
	}
	l.tx = tx
	l.sourceFile = sourceFile
	l.inFile = 0
	l.pending = l.pending[:0]

	if l.replaceExisting {
		n, err := tx.DeleteSource(ctx, sourceFile)
		if err != nil {
			l.rollback(ctx)
			return fmt.Errorf("%w: %s failed to delete previous rows of '%s': %w", ErrSink, l.store.Name(), sourceFile, err)
		}
		if n > 0 {
			logging.Logf(logging.Info, "%s: replacing %d rows previously loaded from '%s'", l.store.Name(), n, sourceFile)
		}
	}
	return nil
}

// Accumulate stages rec and flushes when the batch is full.
func (l *BatchLoader) Accumulate(ctx context.Context, rec transform.Record) error {
	if l.tx == nil {
		return fmt.Errorf("%w: %s accumulate called outside a transaction", ErrSink, l.store.Name())
	}
	l.pending = append(l.pending, rec)
	if len(l.pending) >= l.batchSize {
		if _, err := l.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush inserts the staged records inside the open transaction.
func (l *BatchLoader) Flush(ctx context.Context) (int, error) {
	if len(l.pending) == 0 {
		return 0, nil
	}
	if l.tx == nil {
		return 0, fmt.Errorf("%w: %s flush called outside a transaction", ErrSink, l.store.Name())
	}
	n := len(l.pending)
	if _, err := l.tx.InsertBatch(ctx, l.pending); err != nil {
		return 0, fmt.Errorf("%w: %s batch insert of %d records from '%s' failed: %w", ErrSink, l.store.Name(), n, l.sourceFile, err)
	}
	l.stats.Flushes++
	l.inFile += n
	l.pending = l.pending[:0]
	logging.Logf(logging.Debug, "%s: flushed %d records from '%s'", l.store.Name(), n, l.sourceFile)
	return n, nil
}

// Commit flushes the remainder and commits the file's transaction.
func (l *BatchLoader) Commit(ctx context.Context) error {
	if l.tx == nil {
		return fmt.Errorf("%w: %s commit called outside a transaction", ErrSink, l.store.Name())
	}
	if _, err := l.Flush(ctx); err != nil {
		return err
	}
	if err := l.tx.Commit(ctx); err != nil {
		l.rollback(ctx)
		return fmt.Errorf("%w: %s commit of '%s' failed: %w", ErrSink, l.store.Name(), l.sourceFile, err)
	}
	l.tx = nil
	l.stats.Commits++
	l.stats.Records += l.inFile
	logging.Logf(logging.Debug, "%s: committed %d records from '%s'", l.store.Name(), l.inFile, l.sourceFile)
	return nil
}

// Abort drops staged records and rolls the file's transaction back.
func (l *BatchLoader) Abort(ctx context.Context) error {
	l.pending = l.pending[:0]
	if l.tx == nil {
		return nil
	}
	logging.Logf(logging.Debug, "%s: rolling back '%s'", l.store.Name(), l.sourceFile)
	err := l.tx.Rollback(ctx)
	l.tx = nil
	if err != nil {
		return fmt.Errorf("%w: %s rollback of '%s' failed: %w", ErrSink, l.store.Name(), l.sourceFile, err)
	}
	return nil
}

func (l *BatchLoader) rollback(ctx context.Context) {
	if l.tx == nil {
		return
	}
	if err := l.tx.Rollback(ctx); err != nil {
		logging.Logf(logging.Error, "%s: failed to roll back transaction for '%s': %v", l.store.Name(), l.sourceFile, err)
	}
	l.tx = nil
}

// Close rolls back any open transaction and closes the store.
func (l *BatchLoader) Close() error {
	if l.store == nil {
		return nil
	}
	if l.tx != nil {
		logging.Logf(logging.Warning, "%s: closing with uncommitted transaction for '%s', rolling back", l.store.Name(), l.sourceFile)
		l.rollback(context.Background())
	}
	err := l.store.Close()
	l.store = nil
	if err != nil {
		return fmt.Errorf("%w: failed to close store: %w", ErrSink, err)
	}
	return nil
}

// Stats implements StatsReporter.
func (l *BatchLoader) Stats() Stats { return l.stats }
