package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/constants"
	"github.com/loykin/apingest/internal/request"
)

// PageState is the position of the pager's state machine.
type PageState int

const (
	FirstPage PageState = iota
	NextPage
	Done
)

func (s PageState) String() string {
	switch s {
	case FirstPage:
		return "first_page"
	case NextPage:
		return "next_page"
	default:
		return "done"
	}
}

// NextParamsMode decides how next_params values are interpreted.
type NextParamsMode string

const (
	// NextParamsExpression evaluates string values as jq expressions against the
	// current page context; other values are literals.
	NextParamsExpression NextParamsMode = "expression"
	// NextParamsLiteral takes every value verbatim.
	NextParamsLiteral NextParamsMode = "literal"
)

// ParseNextParamsMode accepts "" as the default expression mode.
func ParseNextParamsMode(s string) (NextParamsMode, error) {
	switch NextParamsMode(s) {
	case "", NextParamsExpression:
		return NextParamsExpression, nil
	case NextParamsLiteral:
		return NextParamsLiteral, nil
	default:
		return "", fmt.Errorf("unknown next_params_mode %q (expected expression or literal)", s)
	}
}

// PagerPolicy configures pagination.
type PagerPolicy struct {
	InitialParams       request.Pairs
	NextParams          request.Pairs
	NextParamsMode      NextParamsMode
	NextBodyTransformer string
	While               string
	IntervalMillis      int64
}

// DefaultPagerPolicy disables pagination: while is false.
func DefaultPagerPolicy() PagerPolicy {
	return PagerPolicy{
		NextParamsMode:      NextParamsExpression,
		NextBodyTransformer: constants.DefaultNextBodyTransformer,
		While:               constants.DefaultPagerWhile,
		IntervalMillis:      constants.DefaultPagerIntervalMillis,
	}
}

// Page is one completed request/response cycle of the pagination loop.
// Number starts at 1.
type Page struct {
	Number  int
	Request request.Spec
	Context *Context
	Rows    []Row
}

// EmitFunc receives every page in order. Returning an error stops the run.
type EmitFunc func(ctx context.Context, page Page) error

// Pager chains requests while the while condition holds.
type Pager struct {
	Policy    PagerPolicy
	Executor  *Executor
	Extractor *Extractor
	// Sleep waits between pages; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run pages through the API starting from base and returns the number of pages emitted.
// There is no page limit: a while condition that never turns false loops until
// an error or cancellation.
func (p *Pager) Run(ctx context.Context, base request.Spec, emit EmitFunc) (int, error) {
	logger := common.GetLogger().WithComponent("pager")
	eval := p.Executor.Evaluator

	state := FirstPage
	spec := base.WithParams(base.Params.Append(p.Policy.InitialParams...))
	pages := 0
	for state != Done {
		if state == NextPage {
			if err := p.sleep(ctx, time.Duration(p.Policy.IntervalMillis)*time.Millisecond); err != nil {
				return pages, err
			}
		}
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		number := pages + 1
		plog := logger.WithPage(number)
		plog.Debug("requesting page", "state", state.String())
		c, err := p.Executor.Execute(ctx, spec)
		if err != nil {
			return pages, err
		}
		rows, err := p.Extractor.Extract(ctx, c)
		if err != nil {
			return pages, err
		}
		if err := emit(ctx, Page{Number: number, Request: spec, Context: c, Rows: rows}); err != nil {
			return pages, fmt.Errorf("emit page %d: %w", number, err)
		}
		pages = number
		plog.Info("page ingested", "rows", len(rows), "status_code", c.StatusCode())

		more, err := eval.EvalBool(ctx, p.Policy.While, c.View())
		if err != nil {
			return pages, &EvaluationError{Role: "pager.while", Expr: p.Policy.While, Err: err}
		}
		if !more {
			state = Done
			continue
		}
		state = NextPage
		spec, err = p.next(ctx, base, c)
		if err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// next derives the following request: base params plus next_params, body from
// the next body transformer. A null (or empty) transformer result drops the body.
func (p *Pager) next(ctx context.Context, base request.Spec, c *Context) (request.Spec, error) {
	eval := p.Executor.Evaluator
	view := c.View()

	params := base.Params.Clone()
	for _, pr := range p.Policy.NextParams {
		expr, isExpr := pr.Value.(string)
		if !isExpr || p.Policy.NextParamsMode == NextParamsLiteral {
			params = params.Append(pr)
			continue
		}
		outs, err := eval.EvalValue(ctx, expr, view)
		if err != nil {
			return request.Spec{}, &EvaluationError{Role: "pager.next_params." + pr.Name, Expr: expr, Err: err}
		}
		if len(outs) != 1 {
			return request.Spec{}, &EvaluationError{
				Role: "pager.next_params." + pr.Name,
				Expr: expr,
				Err:  fmt.Errorf("expected exactly one value, got %d", len(outs)),
			}
		}
		params = params.Append(request.Pair{Name: pr.Name, Value: outs[0]})
	}

	outs, err := eval.EvalValue(ctx, p.Policy.NextBodyTransformer, view)
	if err != nil {
		return request.Spec{}, &EvaluationError{Role: "pager.next_body_transformer", Expr: p.Policy.NextBodyTransformer, Err: err}
	}
	var body any
	switch len(outs) {
	case 0:
	case 1:
		body = outs[0]
	default:
		return request.Spec{}, &EvaluationError{
			Role: "pager.next_body_transformer",
			Expr: p.Policy.NextBodyTransformer,
			Err:  fmt.Errorf("expected at most one value, got %d", len(outs)),
		}
	}
	return base.WithParams(params).WithBody(body), nil
}

func (p *Pager) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
