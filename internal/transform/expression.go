package transform

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// evaluator is the subset of govaluate used here, so tests can stub it.
type evaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

// newEvaluatorFunc compiles expressions; tests may override it.
var newEvaluatorFunc = func(expr string) (evaluator, error) {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, err
	}
	return evalExpr, nil
}

// Expression is a boolean govaluate expression over a record's normalized
// fields:
//
//	providerId  string
//	quarter     number, 0 when the date was unparseable
//	year        number, 0 when the date was unparseable
//	dated       bool, whether quarter and year are set
//	value       number
//	file        string, base name of the source file
type Expression struct {
	source string
	eval   evaluator
}

// NewExpression compiles expr. An empty expr yields a nil *Expression, which
// keeps every record.
func NewExpression(expr string) (*Expression, error) {
	if expr == "" {
		return nil, nil
	}
	ev, err := newEvaluatorFunc(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression '%s': %w", expr, err)
	}
	return &Expression{source: expr, eval: ev}, nil
}

// String returns the expression source.
func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	return e.source
}

// Keep evaluates the expression against rec. A nil Expression keeps
// everything. Evaluation errors and non-boolean results are returned as
// errors; the caller drops the record.
func (e *Expression) Keep(rec Record) (bool, error) {
	if e == nil {
		return true, nil
	}
	result, err := e.eval.Evaluate(Parameters(rec))
	if err != nil {
		return false, fmt.Errorf("evaluating '%s': %w", e.source, err)
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' returned %T (%v), want bool", e.source, result, result)
	}
	return keep, nil
}

// Parameters exposes rec to expressions.
func Parameters(rec Record) map[string]interface{} {
	return map[string]interface{}{
		"providerId": rec.ProviderID,
		"quarter":    float64(rec.Period.Quarter),
		"year":       float64(rec.Period.Year),
		"dated":      rec.Period.Valid(),
		"value":      rec.Amount.Value.InexactFloat64(),
		"file":       rec.SourceFile,
	}
}
