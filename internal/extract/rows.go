package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"unicode/utf8"

	"despesas-etl/internal/config"
	"despesas-etl/internal/logging"

	"golang.org/x/text/encoding/htmlindex"
)

// ErrEmptyFile is returned by OpenRows when the file has no header row.
var ErrEmptyFile = errors.New("file has no header row")

// Byte order marks as they appear after decoding: a UTF-8 BOM read as UTF-8,
// and the same three bytes read as a single-byte Western encoding.
const (
	utf8BOM   = "\ufeff"
	latin1BOM = "\u00ef\u00bb\u00bf"
)

// RawRow is one data line of a source file, cells in file order.
type RawRow = []string

// Dialect describes how a source file is encoded and delimited.
type Dialect struct {
	Comma    rune
	Comment  rune // 0 disables comment lines.
	Encoding string
}

// DialectFromConfig converts the source section of the configuration.
func DialectFromConfig(cfg config.SourceConfig) (Dialect, error) {
	d := Dialect{Comma: ';', Encoding: cfg.Encoding}
	if cfg.Delimiter != "" {
		if utf8.RuneCountInString(cfg.Delimiter) != 1 {
			return Dialect{}, fmt.Errorf("invalid delimiter '%s': must be a single character", cfg.Delimiter)
		}
		d.Comma, _ = utf8.DecodeRuneInString(cfg.Delimiter)
	}
	if cfg.CommentChar != "" {
		if utf8.RuneCountInString(cfg.CommentChar) != 1 {
			return Dialect{}, fmt.Errorf("invalid comment character '%s': must be a single character or empty", cfg.CommentChar)
		}
		d.Comment, _ = utf8.DecodeRuneInString(cfg.CommentChar)
	}
	if d.Encoding == "" {
		d.Encoding = config.DefaultSourceEncoding
	}
	if _, err := htmlindex.Get(d.Encoding); err != nil {
		return Dialect{}, fmt.Errorf("unsupported encoding '%s': %w", d.Encoding, err)
	}
	return d, nil
}

// Rows is a single-pass reader over the data rows of one file. The header is
// consumed by OpenRows; All then yields each remaining row once.
type Rows struct {
	path   string
	file   *os.File
	reader *csv.Reader
	header []string
	err    error
	used   bool
}

// OpenRows opens path, wraps it in a decoder for the dialect's encoding and
// reads the header row. The caller must Close the returned Rows.
func OpenRows(path string, d Dialect) (*Rows, error) {
	enc, err := htmlindex.Get(d.Encoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding '%s' for '%s': %w", d.Encoding, path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}

	reader := csv.NewReader(enc.NewDecoder().Reader(f))
	reader.Comma = d.Comma
	if d.Comment != 0 {
		reader.Comment = d.Comment
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("'%s': %w", path, ErrEmptyFile)
		}
		return nil, fmt.Errorf("failed to read header of '%s': %w", path, wrapParseError(err))
	}
	header[0] = strings.TrimPrefix(strings.TrimPrefix(header[0], utf8BOM), latin1BOM)

	logging.Logf(logging.Debug, "Opened '%s' (encoding %s, delimiter '%c'), header: %v", path, d.Encoding, d.Comma, header)
	return &Rows{path: path, file: f, reader: reader, header: header}, nil
}

// Header returns the header row with any byte order mark removed.
func (r *Rows) Header() []string {
	return r.header
}

// All yields (line, row) pairs until the file is exhausted or a read error
// occurs. The error, if any, is reported by Err. Rows cannot be restarted: a
// second call yields nothing.
func (r *Rows) All() iter.Seq2[int, RawRow] {
	return func(yield func(int, RawRow) bool) {
		if r.used {
			return
		}
		r.used = true
		for {
			row, err := r.reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				r.err = fmt.Errorf("failed to read '%s': %w", r.path, wrapParseError(err))
				return
			}
			line, _ := r.reader.FieldPos(0)
			if !yield(line, row) {
				return
			}
		}
	}
}

// Err returns the read error that stopped All, if any.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the underlying file. Safe to call more than once.
func (r *Rows) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func wrapParseError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("parse error on line %d, column %d: %w", parseErr.Line, parseErr.Column, parseErr.Err)
	}
	return err
}
