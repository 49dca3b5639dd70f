package extract

import (
	"iter"
	"strings"

	"despesas-etl/internal/config"
	"despesas-etl/internal/logging"
	"despesas-etl/internal/util"
)

// Matcher decides whether a description cell carries the target phrase.
type Matcher struct {
	phrase string
	fold   bool
}

// NewMatcher builds a Matcher from the filter configuration. Matching is
// case-sensitive unless CaseInsensitive is set.
func NewMatcher(cfg config.FilterConfig) Matcher {
	m := Matcher{phrase: cfg.Phrase, fold: cfg.CaseInsensitive}
	if m.fold {
		m.phrase = strings.ToLower(m.phrase)
	}
	return m
}

// Match reports whether cell contains the phrase.
func (m Matcher) Match(cell string) bool {
	if m.fold {
		return strings.Contains(strings.ToLower(cell), m.phrase)
	}
	return strings.Contains(cell, m.phrase)
}

// Filter lazily yields the rows of rows whose description cell matches.
// Rows too short to hold the description column are dropped, never reported
// as errors. The result is single-pass like its source.
func Filter(rows iter.Seq2[int, RawRow], cm ColumnMap, m Matcher) iter.Seq2[int, RawRow] {
	return func(yield func(int, RawRow) bool) {
		for line, row := range rows {
			desc, ok := cm.Cell(row, Description)
			if !ok {
				if logging.Enabled(logging.Debug) {
					logging.Logf(logging.Debug, "Line %d too short for description column (%d cells): %s", line, len(row), util.JoinRow(row, ";"))
				}
				continue
			}
			if !m.Match(desc) {
				continue
			}
			if !yield(line, row) {
				return
			}
		}
	}
}
