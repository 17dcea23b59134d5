package pipeline

import (
	"context"
	"fmt"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

// Names that cannot be used for prepare requests because they are part of
// the assignment input.
const (
	reservedRequestParams = "request_params"
	reservedRequestBody   = "request_body"
)

// PrepareStep is one preparatory request. Nil SuccessCondition or Retry fall
// back to the pipeline's top-level settings.
type PrepareStep struct {
	Name             string
	Override         request.Override
	SuccessCondition *string
	Retry            *retry.Policy
}

// AssignTo writes prepare results into the main request. Params maps a param
// name to an expression; Body, when set, is an expression whose result
// replaces the main request body.
type AssignTo struct {
	Params request.Pairs
	Body   string
}

// PrepareGroup runs its requests in order, then applies AssignTo.
type PrepareGroup struct {
	Requests []PrepareStep
	AssignTo AssignTo
}

// Preparer runs prepare groups against the main request.
type Preparer struct {
	Groups   []PrepareGroup
	Defaults Executor
}

// Run executes every group in declared order and returns the main request with
// all assignments applied. The first failure aborts with a *PrepareStepError.
func (p *Preparer) Run(ctx context.Context, base request.Spec) (request.Spec, error) {
	logger := common.GetLogger().WithComponent("prepare")
	current := base.Clone()
	for gi, g := range p.Groups {
		contexts := make(map[string]any, len(g.Requests)+2)
		for _, step := range g.Requests {
			if err := ctx.Err(); err != nil {
				return request.Spec{}, err
			}
			stepLog := logger.WithStep(step.Name)
			spec := request.Build(current, step.Override)
			exec := p.executorFor(step)
			stepLog.Debug("running prepare request", "url", common.MaskSensitiveData(spec.URL()))
			c, err := exec.Execute(ctx, spec)
			if err != nil {
				stepLog.Error("prepare request failed", "error", err)
				return request.Spec{}, &PrepareStepError{Group: gi, Step: step.Name, Err: err}
			}
			contexts[step.Name] = c.View()
		}
		contexts[reservedRequestParams] = current.Params.Object()
		contexts[reservedRequestBody] = nil
		if current.HasBody {
			contexts[reservedRequestBody] = current.Body
		}

		next, err := p.assign(ctx, g.AssignTo, current, contexts)
		if err != nil {
			return request.Spec{}, &PrepareStepError{Group: gi, Err: err}
		}
		current = next
		logger.Info("prepare group applied", "group", gi, "requests", len(g.Requests))
	}
	return current, nil
}

func (p *Preparer) executorFor(step PrepareStep) *Executor {
	exec := p.Defaults
	if step.SuccessCondition != nil {
		exec.SuccessCondition = *step.SuccessCondition
	}
	if step.Retry != nil {
		exec.Retry = *step.Retry
	}
	return &exec
}

func (p *Preparer) assign(ctx context.Context, a AssignTo, main request.Spec, input map[string]any) (request.Spec, error) {
	eval := p.Defaults.Evaluator
	params := main.Params.Clone()
	for _, pr := range a.Params {
		expr, ok := pr.Value.(string)
		if !ok {
			return request.Spec{}, fmt.Errorf("assign_to.params.%s: expression must be a string", pr.Name)
		}
		outs, err := eval.EvalValue(ctx, expr, input)
		if err != nil {
			return request.Spec{}, &EvaluationError{Role: "assign_to.params." + pr.Name, Expr: expr, Err: err}
		}
		if len(outs) != 1 {
			return request.Spec{}, &EvaluationError{
				Role: "assign_to.params." + pr.Name,
				Expr: expr,
				Err:  fmt.Errorf("expected exactly one value, got %d", len(outs)),
			}
		}
		params = params.Without(pr.Name).Append(request.Pair{Name: pr.Name, Value: outs[0]})
	}
	out := main.WithParams(params)
	if a.Body == "" {
		return out, nil
	}
	outs, err := eval.EvalValue(ctx, a.Body, input)
	if err != nil {
		return request.Spec{}, &EvaluationError{Role: "assign_to.body", Expr: a.Body, Err: err}
	}
	if len(outs) != 1 {
		return request.Spec{}, &EvaluationError{
			Role: "assign_to.body",
			Expr: a.Body,
			Err:  fmt.Errorf("expected exactly one value, got %d", len(outs)),
		}
	}
	return out.WithBody(outs[0]), nil
}
