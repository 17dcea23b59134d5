package pipeline

import (
	"context"

	"github.com/loykin/apingest/internal/jq"
)

// Row is one output record: a single JSON value under a column name.
type Row struct {
	Column string
	Value  any
}

// Extractor turns a page context into rows with the transformer expression.
type Extractor struct {
	Evaluator    jq.Evaluator
	Transformer  string
	Column       string
	ExtractArray bool
}

// Extract evaluates the transformer. Each output value becomes one row, or,
// when it is an array and ExtractArray is set, one row per element in order.
func (x *Extractor) Extract(ctx context.Context, c *Context) ([]Row, error) {
	outs, err := x.Evaluator.EvalValue(ctx, x.Transformer, c.View())
	if err != nil {
		return nil, &EvaluationError{Role: "transformer", Expr: x.Transformer, Err: err}
	}
	var rows []Row
	for _, v := range outs {
		if arr, ok := v.([]any); ok && x.ExtractArray {
			for _, el := range arr {
				rows = append(rows, Row{Column: x.Column, Value: el})
			}
			continue
		}
		rows = append(rows, Row{Column: x.Column, Value: v})
	}
	return rows, nil
}
