// Package jq adapts the gojq engine to the narrow capability the ingestion
// pipeline needs: validate an expression up front, evaluate it as a predicate,
// or evaluate it as a transform producing zero or more JSON values.
package jq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/itchyny/gojq"
)

// Evaluator is the expression capability consumed by the pipeline.
// Inputs are JSON-like values (maps, slices, strings, numbers, bools, nil).
type Evaluator interface {
	Validate(expr string) error
	EvalBool(ctx context.Context, expr string, input any) (bool, error)
	EvalValue(ctx context.Context, expr string, input any) ([]any, error)
}

// SyntaxError reports an expression that failed to parse or compile.
type SyntaxError struct {
	Expr string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid jq expression %q: %v", e.Expr, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// EvalError reports a runtime failure or a predicate that did not yield exactly one boolean.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("jq expression %q: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// ErrNotBoolean is wrapped by EvalError when a predicate yields a non-boolean.
var ErrNotBoolean = errors.New("predicate did not evaluate to a boolean")

// GoJQ is the gojq-backed Evaluator. Compiled programs are cached per expression;
// it is safe for concurrent use.
type GoJQ struct {
	mu    sync.RWMutex
	codes map[string]*gojq.Code
}

var _ Evaluator = (*GoJQ)(nil)

// New returns an Evaluator backed by gojq.
func New() *GoJQ {
	return &GoJQ{codes: map[string]*gojq.Code{}}
}

func (g *GoJQ) compile(expr string) (*gojq.Code, error) {
	g.mu.RLock()
	code, ok := g.codes[expr]
	g.mu.RUnlock()
	if ok {
		return code, nil
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, &SyntaxError{Expr: expr, Err: err}
	}
	code, err = gojq.Compile(q)
	if err != nil {
		return nil, &SyntaxError{Expr: expr, Err: err}
	}
	g.mu.Lock()
	g.codes[expr] = code
	g.mu.Unlock()
	return code, nil
}

// Validate parses and compiles expr without evaluating it.
func (g *GoJQ) Validate(expr string) error {
	_, err := g.compile(expr)
	return err
}

// EvalValue runs expr against input and collects every output value.
func (g *GoJQ) EvalValue(ctx context.Context, expr string, input any) ([]any, error) {
	code, err := g.compile(expr)
	if err != nil {
		return nil, err
	}
	in, err := Normalize(input)
	if err != nil {
		return nil, &EvalError{Expr: expr, Err: err}
	}
	var out []any
	iter := code.RunWithContext(ctx, in)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if verr, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(verr, &halt) && halt.Value() == nil {
				break
			}
			return nil, &EvalError{Expr: expr, Err: verr}
		}
		out = append(out, v)
	}
	return out, nil
}

// EvalBool runs expr as a predicate. Exactly one boolean output is required;
// anything else is an EvalError rather than a truthiness coercion.
func (g *GoJQ) EvalBool(ctx context.Context, expr string, input any) (bool, error) {
	vs, err := g.EvalValue(ctx, expr, input)
	if err != nil {
		return false, err
	}
	if len(vs) != 1 {
		return false, &EvalError{Expr: expr, Err: fmt.Errorf("%w: got %d results", ErrNotBoolean, len(vs))}
	}
	b, ok := vs[0].(bool)
	if !ok {
		return false, &EvalError{Expr: expr, Err: fmt.Errorf("%w: got %s", ErrNotBoolean, gojq.Preview(vs[0]))}
	}
	return b, nil
}

// Normalize converts an arbitrary Go value into the JSON value space gojq accepts
// by round-tripping it through encoding/json. Values that already are plain JSON
// trees are copied, so evaluation never mutates caller-owned data. Numbers come
// back as json.Number, which gojq evaluates without going through float64.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("input is not JSON-encodable: %w", err)
	}
	return Decode(b)
}

// Decode parses one JSON document, keeping numbers as json.Number so integers
// beyond 2^53 survive unchanged.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return out, nil
}
