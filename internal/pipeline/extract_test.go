package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/loykin/apingest/internal/jq"
)

func TestExtractor_Extract(t *testing.T) {
	c := NewContext(mainSpec(), jsonResponse(200, `{"items":[{"id":1},{"id":2},{"id":3}],"total":3}`), nil)

	tests := []struct {
		name        string
		transformer string
		extract     bool
		want        []any
	}{
		{"array unwrapped in order", ".response_body.items", true, []any{
			map[string]any{"id": json.Number("1")}, map[string]any{"id": json.Number("2")}, map[string]any{"id": json.Number("3")},
		}},
		{"array kept whole", ".response_body.items", false, []any{
			[]any{map[string]any{"id": json.Number("1")}, map[string]any{"id": json.Number("2")}, map[string]any{"id": json.Number("3")}},
		}},
		{"default transformer wraps body", "[.response_body]", true, []any{
			map[string]any{"items": []any{map[string]any{"id": json.Number("1")}, map[string]any{"id": json.Number("2")}, map[string]any{"id": json.Number("3")}}, "total": json.Number("3")},
		}},
		{"scalar is one row", ".response_body.total", true, []any{json.Number("3")}},
		{"stream of outputs", ".response_body.items[].id", true, []any{json.Number("1"), json.Number("2"), json.Number("3")}},
		{"no output no rows", "empty", true, nil},
		{"empty array no rows", "[]", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := &Extractor{Evaluator: jq.New(), Transformer: tt.transformer, Column: "payload", ExtractArray: tt.extract}
			rows, err := x.Extract(context.Background(), c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []any
			for _, r := range rows {
				if r.Column != "payload" {
					t.Fatalf("unexpected column %q", r.Column)
				}
				got = append(got, r.Value)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("rows = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractor_EvaluationError(t *testing.T) {
	c := NewContext(mainSpec(), jsonResponse(200, `{"items":"x"}`), nil)
	x := &Extractor{Evaluator: jq.New(), Transformer: ".response_body.items[]", Column: "payload", ExtractArray: true}
	_, err := x.Extract(context.Background(), c)
	var eerr *EvaluationError
	if !errors.As(err, &eerr) || eerr.Role != "transformer" {
		t.Fatalf("expected transformer EvaluationError, got %v", err)
	}
}
