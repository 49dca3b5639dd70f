package io

import (
	"context"
	"fmt"
	"strings"

	"despesas-etl/internal/config"
	"despesas-etl/internal/logging"
	"despesas-etl/internal/util"
)

// Constructors used by NewSink; tests may override them.
var (
	newSQLiteStoreFunc = func(dsn, table string) (Store, error) {
		store, err := NewSQLiteStore(dsn, table)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	newPostgresStoreFunc = func(ctx context.Context, connStr, table string) (Store, error) {
		store, err := NewPostgresStore(ctx, connStr, table)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
)

// NewSink creates the sink for the destination configuration. outputFile is
// the flat file or SQLite database path (already overridden and expanded by
// the caller); dbConnStr is the PostgreSQL connection string. Failures to
// create or reach the destination are wrapped in ErrSink.
func NewSink(ctx context.Context, cfg config.DestinationConfig, outputFile, dbConnStr string) (Sink, error) {
	destType := strings.ToLower(cfg.Type)
	logging.Logf(logging.Debug, "Creating sink for type: %s", destType)

	switch destType {
	case config.DestinationTypeCSV:
		sink, err := NewCSVSink(outputFile, cfg.Delimiter)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.DestinationTypeXLSX:
		sink, err := NewXLSXSink(outputFile, cfg.SheetName)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.DestinationTypeSQLite:
		if outputFile == "" {
			return nil, fmt.Errorf("%w: database file is required for destination type 'sqlite'", ErrSink)
		}
		store, err := newSQLiteStoreFunc(outputFile, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSink, err)
		}
		return newLoader(ctx, store, cfg)
	case config.DestinationTypePostgres:
		if dbConnStr == "" {
			return nil, fmt.Errorf("%w: database connection string (-db or DB_CREDENTIALS) is required for destination type 'postgres'", ErrSink)
		}
		store, err := newPostgresStoreFunc(ctx, dbConnStr, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSink, err)
		}
		return newLoader(ctx, store, cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type '%s'", cfg.Type)
	}
}

func newLoader(ctx context.Context, store Store, cfg config.DestinationConfig) (Sink, error) {
	loader, err := NewBatchLoader(ctx, store, cfg.BatchSize, cfg.ReplaceExisting)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			logging.Logf(logging.Warning, "Failed to close %s store after setup error: %v", store.Name(), closeErr)
		}
		return nil, err
	}
	return loader, nil
}

// DescribeDestination renders the destination for logs with credentials masked.
func DescribeDestination(cfg config.DestinationConfig, outputFile, dbConnStr string) string {
	if cfg.Type == config.DestinationTypePostgres {
		return fmt.Sprintf("postgres table %s (%s)", cfg.Table, util.MaskCredentials(util.ExpandEnvUniversal(dbConnStr)))
	}
	if cfg.IsRelational() {
		return fmt.Sprintf("%s table %s in %s", cfg.Type, cfg.Table, outputFile)
	}
	return fmt.Sprintf("%s file %s", cfg.Type, outputFile)
}
