package processor

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"

	"despesas-etl/internal/config"
	"despesas-etl/internal/extract"
	etlio "despesas-etl/internal/io"
	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"
)

// Processor turns one input file into records written to a sink.
// This allows mocking the processor implementation in tests.
type Processor interface {
	// ProcessFile loads the matching rows of path. File-level problems are
	// reported in the FileResult; a non-nil error is run-level (sink failure
	// or cancellation) and must stop the run.
	ProcessFile(ctx context.Context, path string) (FileResult, error)
}

// FileResult describes what happened to one input file.
type FileResult struct {
	File           string
	RowsRead       int
	RowsMatched    int
	RecordsLoaded  int
	RecordsDropped int // rejected by the record expression
	DateFallbacks  int // quarter and year left empty
	ValueFallbacks int // value defaulted to zero
	Skipped        bool
	Err            error
}

func (r FileResult) skip(err error) FileResult {
	r.Skipped = true
	r.Err = err
	r.RecordsLoaded = 0
	return r
}

// processorImpl resolves columns, filters and normalizes rows, and hands
// records to the sink inside a per-file Begin/Commit boundary.
type processorImpl struct {
	dialect  extract.Dialect
	resolver *extract.Resolver
	matcher  extract.Matcher
	expr     *transform.Expression
	sink     etlio.Sink
}

// NewProcessor creates a Processor for cfg writing to sink. The sink stays
// owned by the caller.
func NewProcessor(cfg *config.ETLConfig, sink etlio.Sink) (Processor, error) {
	if sink == nil {
		return nil, fmt.Errorf("processor requires a sink")
	}
	dialect, err := extract.DialectFromConfig(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid source dialect: %w", err)
	}
	expr, err := transform.NewExpression(cfg.Filter.Expression)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	if expr != nil {
		logging.Logf(logging.Debug, "Processor: record expression '%s'", expr)
	}
	return &processorImpl{
		dialect:  dialect,
		resolver: extract.NewResolver(cfg.Columns),
		matcher:  extract.NewMatcher(cfg.Filter),
		expr:     expr,
		sink:     sink,
	}, nil
}

// ProcessFile implements Processor.
func (p *processorImpl) ProcessFile(ctx context.Context, path string) (FileResult, error) {
	name := filepath.Base(path)
	res := FileResult{File: name}

	rows, err := extract.OpenRows(path, p.dialect)
	if err != nil {
		return res.skip(err), nil
	}
	defer rows.Close()

	cm, err := p.resolver.Resolve(rows.Header())
	if err != nil {
		return res.skip(fmt.Errorf("'%s': %w", name, err)), nil
	}
	logging.Logf(logging.Debug, "Processor: '%s' columns %s", name, cm)

	if err := p.sink.Begin(ctx, name); err != nil {
		return res.skip(err), err
	}

	for line, row := range extract.Filter(countRows(ctx, rows.All(), &res.RowsRead), cm, p.matcher) {
		res.RowsMatched++

		rec := transform.Normalize(row, cm).WithSource(name)
		if rec.Period.Status != transform.Parsed {
			res.DateFallbacks++
		}
		if rec.Amount.Status != transform.Parsed {
			res.ValueFallbacks++
		}

		keep, err := p.expr.Keep(rec)
		if err != nil {
			logging.Logf(logging.Debug, "Processor: '%s' line %d dropped: %v", name, line, err)
		}
		if !keep {
			res.RecordsDropped++
			continue
		}

		if err := p.sink.Accumulate(ctx, rec); err != nil {
			p.abort(ctx, name)
			return res.skip(err), err
		}
		res.RecordsLoaded++
	}

	if err := ctx.Err(); err != nil {
		p.abort(ctx, name)
		return res.skip(err), err
	}

	if err := rows.Err(); err != nil {
		if abortErr := p.sink.Abort(ctx); abortErr != nil {
			return res.skip(err), abortErr
		}
		return res.skip(err), nil
	}

	if err := p.sink.Commit(ctx); err != nil {
		p.abort(ctx, name)
		return res.skip(err), err
	}
	return res, nil
}

// abort discards the file's partial output after a run-level error, which
// is already being returned.
func (p *processorImpl) abort(ctx context.Context, name string) {
	if err := p.sink.Abort(ctx); err != nil {
		logging.Logf(logging.Error, "Processor: failed to discard partial output of '%s': %v", name, err)
	}
}

// countRows passes rows through, counting them into n. It stops early once
// ctx is done, matched or not.
func countRows(ctx context.Context, rows iter.Seq2[int, extract.RawRow], n *int) iter.Seq2[int, extract.RawRow] {
	return func(yield func(int, extract.RawRow) bool) {
		for line, row := range rows {
			if ctx.Err() != nil {
				return
			}
			*n++
			if !yield(line, row) {
				return
			}
		}
	}
}
