package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"despesas-etl/internal/config"
	"despesas-etl/internal/logging"
	"despesas-etl/internal/transform"

	"github.com/xuri/excelize/v2"
)

// XLSXSink writes records to a single worksheet. The workbook is kept in
// memory and saved by Close; Abort removes the rows of the current source
// file.
type XLSXSink struct {
	filePath  string
	sheetName string
	f         *excelize.File
	nextRow   int // 1-based row the next record goes to
	fileStart int
	written   int
	stats     Stats
}

// NewXLSXSink prepares a workbook with the header row on sheetName.
func NewXLSXSink(filePath, sheetName string) (*XLSXSink, error) {
	if sheetName == "" {
		sheetName = config.DefaultSheetName
	}

	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: XLSXSink failed to create directory for '%s': %w", ErrSink, filePath, err)
		}
	}

	f := excelize.NewFile()
	if defaultSheet := f.GetSheetName(0); defaultSheet != sheetName {
		if err := f.SetSheetName(defaultSheet, sheetName); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: XLSXSink failed to name sheet '%s': %w", ErrSink, sheetName, err)
		}
	}

	header := make([]interface{}, len(FlatHeader))
	for i, h := range FlatHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: XLSXSink failed to write header row to sheet '%s': %w", ErrSink, sheetName, err)
	}

	logging.Logf(logging.Debug, "XLSXSink prepared '%s' (sheet '%s')", filePath, sheetName)
	return &XLSXSink{filePath: filePath, sheetName: sheetName, f: f, nextRow: 2, fileStart: 2}, nil
}

// Path returns the output file path.
func (s *XLSXSink) Path() string { return s.filePath }

// Begin marks the first row of the source file.
func (s *XLSXSink) Begin(_ context.Context, _ string) error {
	if s.f == nil {
		return fmt.Errorf("%w: XLSXSink '%s' is closed", ErrSink, s.filePath)
	}
	s.fileStart = s.nextRow
	return nil
}

// Accumulate writes the record on the next free row. Unparseable quarter and
// year are left as empty cells.
func (s *XLSXSink) Accumulate(_ context.Context, rec transform.Record) error {
	if s.f == nil {
		return fmt.Errorf("%w: XLSXSink '%s' is closed", ErrSink, s.filePath)
	}
	row := []interface{}{rec.ProviderID, rec.EntityName, nil, nil, rec.Value().InexactFloat64()}
	if rec.Period.Valid() {
		row[2] = rec.Period.Quarter
		row[3] = rec.Period.Year
	}

	cell, err := excelize.CoordinatesToCellName(1, s.nextRow)
	if err != nil {
		return fmt.Errorf("%w: XLSXSink failed to calculate cell coordinates for row %d: %w", ErrSink, s.nextRow, err)
	}
	if err := s.f.SetSheetRow(s.sheetName, cell, &row); err != nil {
		return fmt.Errorf("%w: XLSXSink failed to write row %d to sheet '%s': %w", ErrSink, s.nextRow, s.sheetName, err)
	}
	s.nextRow++
	s.written++
	return nil
}

// Flush reports the rows written since the previous Flush.
func (s *XLSXSink) Flush(_ context.Context) (int, error) {
	n := s.written
	if n > 0 {
		s.stats.Flushes++
	}
	s.written = 0
	return n, nil
}

// Commit accepts the rows of the current source file.
func (s *XLSXSink) Commit(ctx context.Context) error {
	if _, err := s.Flush(ctx); err != nil {
		return err
	}
	s.stats.Commits++
	s.stats.Records += s.nextRow - s.fileStart
	s.fileStart = s.nextRow
	return nil
}

// Abort removes the rows written since Begin.
func (s *XLSXSink) Abort(_ context.Context) error {
	if s.f == nil {
		return nil
	}
	s.written = 0
	for s.nextRow > s.fileStart {
		s.nextRow--
		if err := s.f.RemoveRow(s.sheetName, s.nextRow); err != nil {
			return fmt.Errorf("%w: XLSXSink failed to remove row %d: %w", ErrSink, s.nextRow, err)
		}
	}
	return nil
}

// Close saves the workbook and releases it.
func (s *XLSXSink) Close() error {
	if s.f == nil {
		return nil
	}
	var firstErr error
	if err := s.f.SaveAs(s.filePath); err != nil {
		firstErr = fmt.Errorf("%w: XLSXSink failed to save file '%s': %w", ErrSink, s.filePath, err)
	}
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: XLSXSink failed to close workbook '%s': %w", ErrSink, s.filePath, err)
	}
	s.f = nil
	if firstErr == nil {
		logging.Logf(logging.Info, "XLSXSink wrote %d rows to sheet '%s' in %s", s.stats.Records, s.sheetName, s.filePath)
	}
	return firstErr
}

// Stats implements StatsReporter.
func (s *XLSXSink) Stats() Stats { return s.stats }
