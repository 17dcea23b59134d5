package pipeline

import (
	"context"
	"errors"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/jq"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

// Executor performs one logical request: send, judge the response with the
// success condition, and retry under Retry until resolved.
type Executor struct {
	Transport              httpc.Transport
	Evaluator              jq.Evaluator
	SuccessCondition       string
	Retry                  retry.Policy
	ShowRequestBodyOnError bool
}

// Execute returns the context of the first successful response. Failures are a
// *TransportError or *UnsuccessfulResponseError (possibly inside a
// *retry.ExhaustedError) or an *EvaluationError.
func (e *Executor) Execute(ctx context.Context, spec request.Spec) (*Context, error) {
	method := string(spec.Method)
	if method == "" {
		method = string(request.MethodGet)
	}
	url := spec.URL()
	logger := common.GetLogger().WithComponent("executor").WithRequest(method, common.MaskSensitiveData(url))

	// an unencodable body fails the same way on every attempt
	if _, err := spec.BodyBytes(); err != nil {
		return nil, &ConfigurationError{Field: "request_body", Err: err}
	}

	var result *Context
	err := retry.Do(ctx, e.Retry, func(ctx context.Context, attempt int) error {
		alog := logger.WithAttempt(attempt)
		resp, terr := e.Transport.Execute(ctx, spec)
		if terr != nil {
			// cancellation is final, not a transport failure
			if ctx.Err() != nil {
				return ctx.Err()
			}
			alog.Warn("transport error", "error", terr)
			return retry.Retryable(&TransportError{Method: method, URL: url, Err: terr})
		}

		c := NewContext(spec, resp, nil)
		view := c.View()
		ok, err := e.Evaluator.EvalBool(ctx, e.SuccessCondition, view)
		if err != nil {
			return &EvaluationError{Role: "success_condition", Expr: e.SuccessCondition, Err: err}
		}
		if ok {
			alog.Debug("response accepted", "status_code", c.StatusCode())
			result = c
			return nil
		}

		uerr := e.unsuccessful(method, url, spec, c)
		again, err := e.Evaluator.EvalBool(ctx, e.Retry.Condition, view)
		if err != nil {
			return &EvaluationError{Role: "retry.condition", Expr: e.Retry.Condition, Err: err}
		}
		if !again {
			alog.Debug("response rejected, retry condition not met", "status_code", c.StatusCode())
			return uerr
		}
		return retry.Retryable(uerr)
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			logger.Error("request failed after retries", "attempts", ex.Attempts, "error", ex.Last)
		}
		return nil, err
	}
	return result, nil
}

func (e *Executor) unsuccessful(method, url string, spec request.Spec, c *Context) *UnsuccessfulResponseError {
	uerr := &UnsuccessfulResponseError{
		Method:       method,
		URL:          url,
		StatusCode:   c.StatusCode(),
		ResponseBody: c.RawResponseBody(),
		Condition:    e.SuccessCondition,
		Context:      c,
	}
	if e.ShowRequestBodyOnError {
		if b, err := spec.BodyBytes(); err == nil && b != nil {
			uerr.RequestBody = string(b)
		}
	}
	return uerr
}
