package io

import (
	"context"
	"encoding/csv"
	"fmt"
	goio "io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"
)

// CSVSink appends one row per record to a flat consolidated file. The file is
// truncated and the header written when the sink is created. Rows are flushed
// to the file as they are accumulated; Abort truncates the file back to where
// the current source file began.
type CSVSink struct {
	filePath  string
	file      *os.File
	writer    *csv.Writer
	fileStart int64
	written   int // rows written since the last Flush
	inFile    int // rows written since Begin
	stats     Stats
}

// NewCSVSink creates (or truncates) filePath and writes the header.
func NewCSVSink(filePath, delimiter string) (*CSVSink, error) {
	delim := ','
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim, _ = utf8.DecodeRuneInString(delimiter)
	}

	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: CSVSink failed to create directory for '%s': %w", ErrSink, filePath, err)
		}
	}
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: CSVSink failed to create file '%s': %w", ErrSink, filePath, err)
	}

	w := csv.NewWriter(f)
	w.Comma = delim
	if err := w.Write(FlatHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: CSVSink failed to write header to '%s': %w", ErrSink, filePath, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: CSVSink failed to write header to '%s': %w", ErrSink, filePath, err)
	}

	logging.Logf(logging.Debug, "CSVSink created '%s' (delimiter '%c')", filePath, delim)
	return &CSVSink{filePath: filePath, file: f, writer: w}, nil
}

// Path returns the output file path.
func (s *CSVSink) Path() string { return s.filePath }

// Begin remembers the current end of file so Abort can roll back to it.
func (s *CSVSink) Begin(_ context.Context, sourceFile string) error {
	if s.file == nil {
		return fmt.Errorf("%w: CSVSink '%s' is closed", ErrSink, s.filePath)
	}
	off, err := s.file.Seek(0, goio.SeekCurrent)
	if err != nil {
		return fmt.Errorf("%w: CSVSink failed to get offset of '%s': %w", ErrSink, s.filePath, err)
	}
	s.fileStart = off
	s.inFile = 0
	logging.Logf(logging.Debug, "CSVSink: begin '%s' at offset %d", sourceFile, off)
	return nil
}

// Accumulate writes the record as one line.
func (s *CSVSink) Accumulate(_ context.Context, rec transform.Record) error {
	if s.file == nil {
		return fmt.Errorf("%w: CSVSink '%s' is closed", ErrSink, s.filePath)
	}
	row := []string{
		rec.ProviderID,
		rec.EntityName,
		rec.Period.QuarterField(),
		rec.Period.YearField(),
		rec.Value().StringFixed(2),
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("%w: CSVSink failed to write row to '%s': %w", ErrSink, s.filePath, err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("%w: CSVSink failed to write row to '%s': %w", ErrSink, s.filePath, err)
	}
	s.written++
	s.inFile++
	return nil
}

// Flush reports the rows written since the previous Flush. Rows already
// reach the file in Accumulate.
func (s *CSVSink) Flush(_ context.Context) (int, error) {
	n := s.written
	if n > 0 {
		s.stats.Flushes++
	}
	s.written = 0
	return n, nil
}

// Commit syncs the file so the rows of the current source file are durable.
func (s *CSVSink) Commit(ctx context.Context) error {
	if _, err := s.Flush(ctx); err != nil {
		return err
	}
	if s.file == nil {
		return fmt.Errorf("%w: CSVSink '%s' is closed", ErrSink, s.filePath)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: CSVSink failed to sync '%s': %w", ErrSink, s.filePath, err)
	}
	s.stats.Commits++
	s.stats.Records += s.inFile
	s.inFile = 0
	return nil
}

// Abort truncates the output back to the offset recorded by Begin.
func (s *CSVSink) Abort(_ context.Context) error {
	if s.file == nil {
		return nil
	}
	s.written = 0
	if s.inFile == 0 {
		return nil
	}
	logging.Logf(logging.Debug, "CSVSink: discarding %d rows written since offset %d", s.inFile, s.fileStart)
	s.inFile = 0
	if err := s.file.Truncate(s.fileStart); err != nil {
		return fmt.Errorf("%w: CSVSink failed to truncate '%s': %w", ErrSink, s.filePath, err)
	}
	if _, err := s.file.Seek(s.fileStart, goio.SeekStart); err != nil {
		return fmt.Errorf("%w: CSVSink failed to seek '%s': %w", ErrSink, s.filePath, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	var firstErr error
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		firstErr = fmt.Errorf("%w: CSVSink flush error on close for '%s': %w", ErrSink, s.filePath, err)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: CSVSink close error for '%s': %w", ErrSink, s.filePath, err)
	}
	s.file = nil
	s.writer = nil
	if firstErr == nil {
		logging.Logf(logging.Debug, "CSVSink closed '%s' (%d records)", s.filePath, s.stats.Records)
	}
	return firstErr
}

// Stats implements StatsReporter.
func (s *CSVSink) Stats() Stats { return s.stats }
