// Package transform converts resolved source rows into normalized expense
// records: reporting dates become fiscal periods and pt-BR amounts become
// decimals. Parse failures never abort a row; they are recorded in the
// result status and fall back to empty or zero values.
package transform

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"despesas-etl/internal/extract"
	"despesas-etl/internal/logging"

	"github.com/shopspring/decimal"
)

// DateLayout is the only accepted reporting date format.
const DateLayout = "2006-01-02"

// ParseStatus tells a parsed value apart from the two fallback cases.
type ParseStatus int

const (
	Parsed ParseStatus = iota
	// Empty means the cell was absent, short or blank.
	Empty
	// Malformed means the cell had content that could not be parsed.
	Malformed
)

func (s ParseStatus) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Empty:
		return "empty"
	case Malformed:
		return "malformed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// plainAmountRe is a dot-decimal number without exponent or grouping.
var plainAmountRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// maxAmount bounds accepted values to what NUMERIC(18,2) columns can hold.
var maxAmount = decimal.New(1, 16)

// Amount is the result of parsing a value cell. Value is zero unless Status
// is Parsed.
type Amount struct {
	Value  decimal.Decimal
	Status ParseStatus
}

// ParseAmount parses a comma-decimal amount such as "1234,56" or "1.234,56".
// When a comma is present, dots are read as digit grouping and dropped and
// the comma becomes the decimal point. Without a comma the text is parsed
// as-is. Exponents and values of magnitude 10^16 or more are Malformed.
func ParseAmount(raw string) Amount {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Amount{Value: decimal.Zero, Status: Empty}
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	if !plainAmountRe.MatchString(s) {
		return Amount{Value: decimal.Zero, Status: Malformed}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.Abs().GreaterThanOrEqual(maxAmount) {
		return Amount{Value: decimal.Zero, Status: Malformed}
	}
	return Amount{Value: d, Status: Parsed}
}

// Period is the fiscal quarter and year derived from a reporting date.
// Year and Quarter are zero unless Status is Parsed.
type Period struct {
	Year    int
	Quarter int
	Status  ParseStatus
}

// Valid reports whether the period was derived from a parseable date.
func (p Period) Valid() bool {
	return p.Status == Parsed
}

// QuarterField renders the quarter for flat output, empty when invalid.
func (p Period) QuarterField() string {
	if !p.Valid() {
		return ""
	}
	return strconv.Itoa(p.Quarter)
}

// YearField renders the year for flat output, empty when invalid.
func (p Period) YearField() string {
	if !p.Valid() {
		return ""
	}
	return strconv.Itoa(p.Year)
}

// ParsePeriod parses a YYYY-MM-DD date into its fiscal period.
func ParsePeriod(raw string) Period {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Period{Status: Empty}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Period{Status: Malformed}
	}
	return Period{
		Year:    t.Year(),
		Quarter: (int(t.Month())-1)/3 + 1,
		Status:  Parsed,
	}
}

// Record is one normalized expense line. EntityName is always empty: the
// source exports carry no organization name.
type Record struct {
	ProviderID string
	EntityName string
	Period     Period
	Amount     Amount
	SourceFile string
}

// Value returns the canonical amount, zero when the cell was empty or malformed.
func (r Record) Value() decimal.Decimal {
	return r.Amount.Value
}

// WithSource returns a copy of r tagged with the file it was read from.
func (r Record) WithSource(file string) Record {
	r.SourceFile = file
	return r
}

// Normalize builds a Record from a retained row. Missing roles and short
// rows produce empty or zero fields, never errors.
func Normalize(row extract.RawRow, cm extract.ColumnMap) Record {
	rec := Record{}

	if id, ok := cm.Cell(row, extract.ProviderID); ok {
		rec.ProviderID = id
	}

	dateCell, _ := cm.Cell(row, extract.Date)
	rec.Period = ParsePeriod(dateCell)
	if rec.Period.Status == Malformed {
		logging.Logf(logging.Debug, "Unparseable date %q, quarter and year left empty", dateCell)
	}

	valueCell, _ := cm.Cell(row, extract.Value)
	rec.Amount = ParseAmount(valueCell)
	if rec.Amount.Status == Malformed {
		logging.Logf(logging.Debug, "Unparseable value %q, using 0", valueCell)
	}

	return rec
}
