package io

import (
	"context"

	"despesas-etl/internal/transform"
)

// DiscardSink counts records without persisting them. Used for dry runs.
type DiscardSink struct {
	pending int
	inFile  int
	stats   Stats
}

// NewDiscardSink returns an empty DiscardSink.
func NewDiscardSink() *DiscardSink { return &DiscardSink{} }

func (d *DiscardSink) Begin(context.Context, string) error {
	d.pending, d.inFile = 0, 0
	return nil
}

func (d *DiscardSink) Accumulate(context.Context, transform.Record) error {
	d.pending++
	d.inFile++
	return nil
}

func (d *DiscardSink) Flush(context.Context) (int, error) {
	n := d.pending
	if n > 0 {
		d.stats.Flushes++
	}
	d.pending = 0
	return n, nil
}

func (d *DiscardSink) Commit(ctx context.Context) error {
	_, _ = d.Flush(ctx)
	d.stats.Commits++
	d.stats.Records += d.inFile
	d.inFile = 0
	return nil
}

func (d *DiscardSink) Abort(context.Context) error {
	d.pending, d.inFile = 0, 0
	return nil
}

func (d *DiscardSink) Close() error { return nil }

// Stats implements StatsReporter.
func (d *DiscardSink) Stats() Stats { return d.stats }
