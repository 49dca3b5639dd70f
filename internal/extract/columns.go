// Package extract turns CSV exports with free-text headers into positional
// rows: it resolves which column plays which role, decodes the file in its
// declared encoding and yields the rows whose description matches the target
// phrase.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"despesas-etl/internal/config"
	"despesas-etl/internal/logging"
)

// ErrNoDescriptionColumn is returned by Resolve when no header cell matches a
// description token. The caller skips the whole file.
var ErrNoDescriptionColumn = errors.New("no description column in header")

// Role is a semantic column of the source exports.
type Role int

// Roles in resolution priority order. Description comes first so a generic
// "tipo" header is never claimed by another role.
const (
	Description Role = iota
	Value
	Date
	ProviderID
	numRoles
)

// Absent is the index of a role with no matching header cell.
const Absent = -1

func (r Role) String() string {
	switch r {
	case Description:
		return "description"
	case Value:
		return "value"
	case Date:
		return "date"
	case ProviderID:
		return "providerId"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ColumnMap maps each role to a zero-based column index or Absent.
// It is built once per file by Resolve and never modified afterwards.
type ColumnMap struct {
	idx [numRoles]int
}

// Index returns the column of role r and whether it was found.
func (m ColumnMap) Index(r Role) (int, bool) {
	if r < 0 || r >= numRoles {
		return Absent, false
	}
	i := m.idx[r]
	return i, i != Absent
}

// Cell returns the cell of row that plays role r. The second result is false
// when the role is absent from the header or the row is too short.
func (m ColumnMap) Cell(row []string, r Role) (string, bool) {
	i, ok := m.Index(r)
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

func (m ColumnMap) String() string {
	parts := make([]string, 0, numRoles)
	for r := Description; r < numRoles; r++ {
		parts = append(parts, fmt.Sprintf("%s=%d", r, m.idx[r]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// RoleTokens pairs a role with the header tokens that identify it.
type RoleTokens struct {
	Role   Role
	Tokens []string
}

// Resolver locates column roles in a header row. Rules are evaluated in
// order; the first rule whose tokens match a cell claims that cell.
type Resolver struct {
	rules []RoleTokens
}

// NewResolver builds a Resolver from configured tokens, in the fixed order
// description, value, date, providerId. Tokens are trimmed and case-folded.
func NewResolver(cfg config.ColumnsConfig) *Resolver {
	return &Resolver{rules: []RoleTokens{
		{Role: Description, Tokens: foldTokens(cfg.Description)},
		{Role: Value, Tokens: foldTokens(cfg.Value)},
		{Role: Date, Tokens: foldTokens(cfg.Date)},
		{Role: ProviderID, Tokens: foldTokens(cfg.ProviderID)},
	}}
}

func foldTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Resolve maps the header onto roles. Each cell is compared, trimmed and
// case-folded, against the rules in priority order and is claimed by the
// first role whose token it contains. A role keeps the first cell it claims;
// a later cell matching an already-claimed role is ignored. A missing
// description role yields ErrNoDescriptionColumn.
func (res *Resolver) Resolve(header []string) (ColumnMap, error) {
	var m ColumnMap
	for r := range m.idx {
		m.idx[r] = Absent
	}

	for i, cell := range header {
		folded := strings.ToLower(strings.TrimSpace(cell))
		if folded == "" {
			continue
		}
		role, ok := res.match(folded)
		if !ok {
			continue
		}
		if m.idx[role] != Absent {
			logging.Logf(logging.Debug, "Column %d (%q) also matches role %s, keeping column %d", i, cell, role, m.idx[role])
			continue
		}
		m.idx[role] = i
	}

	if m.idx[Description] == Absent {
		return m, ErrNoDescriptionColumn
	}
	return m, nil
}

func (res *Resolver) match(folded string) (Role, bool) {
	for _, rule := range res.rules {
		for _, tok := range rule.Tokens {
			if strings.Contains(folded, tok) {
				return rule.Role, true
			}
		}
	}
	return Absent, false
}
