// Package pipeline is the ingestion control-flow engine: prepare requests seed
// the main request, the pager chains pages, each page is executed under the
// retry policy and turned into rows by the transformer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/constants"
	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/jq"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

// Config is a fully defaulted pipeline definition.
type Config struct {
	Request                request.Spec
	SuccessCondition       string
	Transformer            string
	Column                 string
	ExtractArray           bool
	Pager                  PagerPolicy
	Retry                  retry.Policy
	ShowRequestBodyOnError bool
	Prepare                []PrepareGroup
}

// DefaultConfig returns a Config with every default applied; callers set Request.
func DefaultConfig() Config {
	return Config{
		Request:                request.Spec{Scheme: request.Scheme(constants.DefaultScheme), Method: request.Method(constants.DefaultMethod)},
		SuccessCondition:       constants.DefaultSuccessCondition,
		Transformer:            constants.DefaultTransformer,
		Column:                 constants.DefaultTransformedJSONColumnName,
		ExtractArray:           constants.DefaultExtractTransformedJSONArray,
		Pager:                  DefaultPagerPolicy(),
		Retry:                  retry.DefaultPolicy(),
		ShowRequestBodyOnError: constants.DefaultShowRequestBodyOnError,
	}
}

// Pipeline runs one ingestion. Build it with New; a Pipeline must not be used
// by concurrent Run calls.
type Pipeline struct {
	cfg       Config
	transport httpc.Transport
	eval      jq.Evaluator
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTransport replaces the default resty transport.
func WithTransport(t httpc.Transport) Option {
	return func(p *Pipeline) { p.transport = t }
}

// WithEvaluator replaces the default gojq evaluator.
func WithEvaluator(e jq.Evaluator) Option {
	return func(p *Pipeline) { p.eval = e }
}

// WithSleep replaces the wait between pages.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// New validates cfg, compiling every expression, and returns a ready Pipeline.
// Any problem is reported as a *ConfigurationError before a request is sent.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.eval == nil {
		p.eval = jq.New()
	}
	if p.transport == nil {
		p.transport = httpc.NewClient(httpc.Httpc{Timeout: constants.DefaultHTTPTimeout})
	}
	if err := Validate(cfg, p.eval); err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the pipeline definition.
func (p *Pipeline) Config() Config { return p.cfg }

// Result summarizes a finished run.
type Result struct {
	Pages int
	Rows  int
}

// Run executes prepare, then pages until the while condition is false, passing
// each page to emit. It stops at the first fatal error.
func (p *Pipeline) Run(ctx context.Context, emit EmitFunc) (Result, error) {
	logger := common.GetLogger().WithComponent("pipeline")
	exec := Executor{
		Transport:              p.transport,
		Evaluator:              p.eval,
		SuccessCondition:       p.cfg.SuccessCondition,
		Retry:                  p.cfg.Retry,
		ShowRequestBodyOnError: p.cfg.ShowRequestBodyOnError,
	}

	base := p.cfg.Request
	if len(p.cfg.Prepare) > 0 {
		prep := Preparer{Groups: p.cfg.Prepare, Defaults: exec}
		var err error
		base, err = prep.Run(ctx, base)
		if err != nil {
			return Result{}, err
		}
	}

	var res Result
	pager := Pager{
		Policy:   p.cfg.Pager,
		Executor: &exec,
		Extractor: &Extractor{
			Evaluator:    p.eval,
			Transformer:  p.cfg.Transformer,
			Column:       p.cfg.Column,
			ExtractArray: p.cfg.ExtractArray,
		},
		Sleep: p.sleep,
	}
	pages, err := pager.Run(ctx, base, func(ctx context.Context, page Page) error {
		res.Rows += len(page.Rows)
		return emit(ctx, page)
	})
	res.Pages = pages
	if err != nil {
		logger.Error("ingestion failed", "error", err, "pages", res.Pages, "rows", res.Rows)
		return res, err
	}
	logger.Info("ingestion completed", "pages", res.Pages, "rows", res.Rows)
	return res, nil
}

// Validate checks cfg without sending traffic: host, policies, prepare request
// names, and every expression (success and retry conditions, transformer, pager
// predicates and transforms, assignment expressions).
func Validate(cfg Config, eval jq.Evaluator) error {
	var errs []error
	fail := func(field string, err error) {
		errs = append(errs, &ConfigurationError{Field: field, Err: err})
	}
	expr := func(field, e string) {
		if strings.TrimSpace(e) == "" {
			fail(field, errors.New("expression must not be empty"))
			return
		}
		if err := eval.Validate(e); err != nil {
			fail(field, err)
		}
	}
	policy := func(field string, rp retry.Policy) {
		if err := rp.Validate(); err != nil {
			fail(field, err)
		}
		expr(field+".condition", rp.Condition)
	}

	if strings.TrimSpace(cfg.Request.Host) == "" {
		fail("host", errors.New("host is required"))
	}
	if err := validatePort(cfg.Request.Port); err != nil {
		fail("port", err)
	}
	expr("success_condition", cfg.SuccessCondition)
	expr("transformer", cfg.Transformer)
	if strings.TrimSpace(cfg.Column) == "" {
		fail("transformed_json_column_name", errors.New("column name must not be empty"))
	}
	policy("retry", cfg.Retry)

	pg := cfg.Pager
	if pg.IntervalMillis < 0 {
		fail("pager.interval_millis", fmt.Errorf("must be >= 0, got %d", pg.IntervalMillis))
	}
	if _, err := ParseNextParamsMode(string(pg.NextParamsMode)); err != nil {
		fail("pager.next_params_mode", err)
	}
	expr("pager.while", pg.While)
	expr("pager.next_body_transformer", pg.NextBodyTransformer)
	if pg.NextParamsMode != NextParamsLiteral {
		for _, pr := range pg.NextParams {
			if s, ok := pr.Value.(string); ok {
				expr("pager.next_params."+pr.Name, s)
			}
		}
	}

	seen := map[string]bool{}
	for gi, g := range cfg.Prepare {
		for ri, step := range g.Requests {
			field := fmt.Sprintf("prepare[%d].requests[%d]", gi, ri)
			switch {
			case strings.TrimSpace(step.Name) == "":
				fail(field+".name", errors.New("name is required"))
			case step.Name == reservedRequestParams || step.Name == reservedRequestBody:
				fail(field+".name", fmt.Errorf("%q is reserved", step.Name))
			case seen[step.Name]:
				fail(field+".name", fmt.Errorf("duplicate prepare request name %q", step.Name))
			}
			seen[step.Name] = true
			if err := validatePort(step.Override.Port); err != nil {
				fail(field+".port", err)
			}
			if step.SuccessCondition != nil {
				expr(field+".success_condition", *step.SuccessCondition)
			}
			if step.Retry != nil {
				policy(field+".retry", *step.Retry)
			}
		}
		for _, pr := range g.AssignTo.Params {
			field := fmt.Sprintf("prepare[%d].assign_to.params.%s", gi, pr.Name)
			s, ok := pr.Value.(string)
			if !ok {
				fail(field, errors.New("expression must be a string"))
				continue
			}
			expr(field, s)
		}
		if g.AssignTo.Body != "" {
			expr(fmt.Sprintf("prepare[%d].assign_to.body", gi), g.AssignTo.Body)
		}
	}
	return errors.Join(errs...)
}

func validatePort(port *int) error {
	if port == nil {
		return nil
	}
	if *port < 0 || *port > 65535 {
		return fmt.Errorf("port must be within 0..65535, got %d", *port)
	}
	return nil
}
