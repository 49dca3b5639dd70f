package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"despesas-etl/internal/logging"

	"github.com/google/uuid"
)

// ErrInputDir reports a missing or unreadable input directory.
var ErrInputDir = errors.New("input directory unavailable")

// Summary aggregates a run. Complete is false when a run-level error
// stopped processing; the counts then cover only the files seen so far.
type Summary struct {
	RunID          string
	Started        time.Time
	Duration       time.Duration
	FilesProcessed int
	FilesSkipped   int
	RecordsLoaded  int
	Files          []FileResult
	Complete       bool
}

func (s *Summary) add(res FileResult) {
	s.Files = append(s.Files, res)
	if res.Skipped {
		s.FilesSkipped++
		return
	}
	s.FilesProcessed++
	s.RecordsLoaded += res.RecordsLoaded
}

// Driver enumerates the input directory and feeds each file to a Processor.
type Driver struct {
	proc    Processor
	pattern string
	exclude map[string]bool
}

// NewDriver returns a Driver for files whose names match pattern
// (filepath.Match syntax, case-insensitive). Paths in exclude, typically the
// run's own output, are never processed.
func NewDriver(proc Processor, pattern string, exclude ...string) *Driver {
	d := &Driver{proc: proc, pattern: strings.ToLower(pattern), exclude: make(map[string]bool)}
	for _, p := range exclude {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			d.exclude[abs] = true
		}
	}
	return d
}

// Run processes every matching regular file of dir in lexicographic order.
// File-level failures are recorded and skipped; a run-level failure stops
// the run and is returned with the partial Summary.
func (d *Driver) Run(ctx context.Context, dir string) (sum Summary, err error) {
	sum = Summary{RunID: uuid.NewString(), Started: time.Now()}
	defer func() { sum.Duration = time.Since(sum.Started) }()

	files, err := d.listFiles(dir)
	if err != nil {
		return sum, err
	}
	logging.Logf(logging.Info, "Run %s: %d input files in '%s'", sum.RunID, len(files), dir)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("run cancelled: %w", err)
		}
		res, err := d.proc.ProcessFile(ctx, path)
		sum.add(res)
		if err != nil {
			logging.Logf(logging.Error, "Run-level failure while processing '%s': %v", res.File, err)
			return sum, fmt.Errorf("processing '%s': %w", res.File, err)
		}
		if res.Skipped {
			logging.Logf(logging.Warning, "Skipping file '%s': %v", res.File, res.Err)
			continue
		}
		logging.Logf(logging.Info, "Processed '%s': %d records loaded (%d rows read, %d matched)",
			res.File, res.RecordsLoaded, res.RowsRead, res.RowsMatched)
		if res.DateFallbacks > 0 || res.ValueFallbacks > 0 || res.RecordsDropped > 0 {
			logging.Logf(logging.Info, "  '%s': %d without period, %d with zero value fallback, %d dropped by expression",
				res.File, res.DateFallbacks, res.ValueFallbacks, res.RecordsDropped)
		}
	}

	sum.Complete = true
	return sum, nil
}

// listFiles returns the sorted regular files of dir matching the pattern.
func (d *Driver) listFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is not a directory", ErrInputDir, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputDir, err)
	}

	var files []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !isRegular(e, path) {
			continue
		}
		ok, err := filepath.Match(d.pattern, strings.ToLower(e.Name()))
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern '%s': %w", d.pattern, err)
		}
		if !ok {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil && d.exclude[abs] {
			logging.Logf(logging.Debug, "Ignoring output artifact '%s' in input directory", path)
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// isRegular reports whether e is a regular file, following symlinks.
func isRegular(e fs.DirEntry, path string) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
