package io

import (
	"context"
	"errors"

	"despesas-etl/internal/transform"
)

// ErrSink marks failures of the destination itself (unreachable database,
// failed schema creation, write or commit errors). They abort the run.
var ErrSink = errors.New("sink failure")

// FlatHeader is the header row of flat outputs.
var FlatHeader = []string{"CNPJ", "RazaoSocial", "Trimestre", "Ano", "ValorDespesas"}

// Sink persists normalized records. The driver uses it per input file as
//
//	Begin -> Accumulate... -> Commit   (or Abort on a file-level failure)
//
// and calls Close once at the end of the run. A Sink is owned by a single
// goroutine.
type Sink interface {
	// Begin opens the unit of work for one source file.
	Begin(ctx context.Context, sourceFile string) error

	// Accumulate stages one record. Implementations may flush on their own
	// when their batch is full.
	Accumulate(ctx context.Context, rec transform.Record) error

	// Flush persists the staged records and returns how many were written.
	Flush(ctx context.Context) (int, error)

	// Commit flushes any remainder and makes the file's records durable.
	Commit(ctx context.Context) error

	// Abort discards everything staged or written since Begin.
	Abort(ctx context.Context) error

	// Close releases the destination. Work begun but not committed is
	// discarded. Safe to call more than once.
	Close() error
}

// Stats counts the batched operations a sink performed.
type Stats struct {
	Flushes int
	Commits int
	Records int // records made durable by Commit
}

// StatsReporter is implemented by sinks that count their operations.
type StatsReporter interface {
	Stats() Stats
}
