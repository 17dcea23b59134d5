package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/apingest/internal/constants"
	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/pipeline"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
	"github.com/samber/lo"
)

var defaultDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// OutputTypes lists the accepted output.type values.
var OutputTypes = []string{"stdout", "jsonl", "sqlite", "postgres"}

func (t *Task) applyDefaults() {
	if t.DefaultTimezone == "" {
		t.DefaultTimezone = constants.DefaultTimezone
	}
	if t.DefaultTimestampFormat == "" {
		t.DefaultTimestampFormat = constants.DefaultTimestampFormat
	}
	if t.DefaultDate == "" {
		t.DefaultDate = constants.DefaultDate
	}
	if t.Pager.NextParamsMode == "" {
		t.Pager.NextParamsMode = constants.DefaultNextParamsMode
	}
	t.Output.Type = strings.ToLower(strings.TrimSpace(t.Output.Type))
	if t.Output.Type == "" {
		t.Output.Type = constants.DefaultOutputType
	}
	if t.Output.Table == "" {
		t.Output.Table = constants.DefaultRowsTable
	}
	if t.Output.RunsTable == "" {
		t.Output.RunsTable = constants.DefaultRunsTable
	}
	if t.Output.Type == "sqlite" && t.Output.Path == "" {
		t.Output.Path = constants.DefaultSQLiteFile
	}
	if t.Client.Timeout == 0 {
		t.Client.Timeout = constants.DefaultHTTPTimeout
	}
}

// Validate performs the presence and shape checks that do not need the
// expression engine; expressions are compiled by pipeline.New.
func (t *Task) Validate() error {
	var errs []error
	if t.Host == nil || strings.TrimSpace(*t.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if _, err := t.RequestConfig.override(); err != nil {
		errs = append(errs, err)
	}
	for gi, g := range t.Prepare {
		for ri, r := range g.Requests {
			if _, err := r.RequestConfig.override(); err != nil {
				errs = append(errs, fmt.Errorf("prepare[%d].requests[%d]: %w", gi, ri, err))
			}
			if r.Retry != nil {
				if err := r.Retry.Policy().Validate(); err != nil {
					errs = append(errs, fmt.Errorf("prepare[%d].requests[%d].retry: %w", gi, ri, err))
				}
			}
		}
		if dups := lo.FindDuplicates(lo.Map(g.Requests, func(r PrepareRequestConfig, _ int) string { return r.Name })); len(dups) > 0 {
			errs = append(errs, fmt.Errorf("prepare[%d]: duplicate request names %v", gi, dups))
		}
	}
	if err := t.Retry.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if t.Pager.IntervalMillis != nil && *t.Pager.IntervalMillis < 0 {
		errs = append(errs, fmt.Errorf("pager.interval_millis must be >= 0, got %d", *t.Pager.IntervalMillis))
	}
	if _, err := pipeline.ParseNextParamsMode(t.Pager.NextParamsMode); err != nil {
		errs = append(errs, fmt.Errorf("pager: %w", err))
	}
	if _, err := time.LoadLocation(t.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default_timezone: %w", err))
	}
	if !defaultDatePattern.MatchString(t.DefaultDate) {
		errs = append(errs, fmt.Errorf("default_date must match YYYY-MM-DD, got %q", t.DefaultDate))
	} else if _, err := time.Parse(time.DateOnly, t.DefaultDate); err != nil {
		errs = append(errs, fmt.Errorf("default_date: %w", err))
	}
	if !lo.Contains(OutputTypes, t.Output.Type) {
		errs = append(errs, fmt.Errorf("output.type %q is not one of %v", t.Output.Type, OutputTypes))
	}
	if t.Output.Type == "postgres" && strings.TrimSpace(t.Output.DSN) == "" {
		errs = append(errs, errors.New("output.dsn is required for postgres output"))
	}
	if _, err := t.Client.Httpc(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	return errors.Join(errs...)
}

// Policy fills absent fields with the default retry policy.
func (r RetryConfig) Policy() retry.Policy {
	def := retry.DefaultPolicy()
	return retry.Policy{
		Condition:             lo.FromPtrOr(r.Condition, def.Condition),
		MaxRetries:            lo.FromPtrOr(r.MaxRetries, def.MaxRetries),
		InitialIntervalMillis: lo.FromPtrOr(r.InitialIntervalMillis, def.InitialIntervalMillis),
		MaxIntervalMillis:     lo.FromPtrOr(r.MaxIntervalMillis, def.MaxIntervalMillis),
	}
}

// override converts the document form into a request.Override, parsing scheme
// (lowercased) and method (case-insensitive).
func (r RequestConfig) override() (request.Override, error) {
	o := request.Override{
		Host:    r.Host,
		Path:    r.Path,
		Headers: r.Headers,
		Params:  r.Params,
		Body:    r.Body,
		HasBody: r.HasBody,
	}
	if r.Scheme != nil {
		s, err := request.ParseScheme(*r.Scheme)
		if err != nil {
			return o, err
		}
		o.Scheme = &s
	}
	if r.Method != nil {
		m, err := request.ParseMethod(*r.Method)
		if err != nil {
			return o, err
		}
		o.Method = &m
	}
	if r.Port != nil {
		if *r.Port < 0 || *r.Port > 65535 {
			return o, fmt.Errorf("port must be within 0..65535, got %d", *r.Port)
		}
		p := *r.Port
		o.Port = &p
	}
	return o, nil
}

// Pipeline converts the task into a pipeline definition.
func (t *Task) Pipeline() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	o, err := t.RequestConfig.override()
	if err != nil {
		return cfg, err
	}
	cfg.Request = request.Build(cfg.Request, o)

	cfg.SuccessCondition = lo.FromPtrOr(t.SuccessCondition, cfg.SuccessCondition)
	cfg.Transformer = lo.FromPtrOr(t.Transformer, cfg.Transformer)
	cfg.Column = lo.FromPtrOr(t.TransformedJSONColumnName, cfg.Column)
	cfg.ExtractArray = lo.FromPtrOr(t.ExtractTransformedJSONArray, cfg.ExtractArray)
	cfg.ShowRequestBodyOnError = lo.FromPtrOr(t.ShowRequestBodyOnError, cfg.ShowRequestBodyOnError)
	cfg.Retry = t.Retry.Policy()

	mode, err := pipeline.ParseNextParamsMode(t.Pager.NextParamsMode)
	if err != nil {
		return cfg, err
	}
	cfg.Pager = pipeline.PagerPolicy{
		InitialParams:       t.Pager.InitialParams,
		NextParams:          t.Pager.NextParams,
		NextParamsMode:      mode,
		NextBodyTransformer: lo.FromPtrOr(t.Pager.NextBodyTransformer, cfg.Pager.NextBodyTransformer),
		While:               lo.FromPtrOr(t.Pager.While, cfg.Pager.While),
		IntervalMillis:      lo.FromPtrOr(t.Pager.IntervalMillis, cfg.Pager.IntervalMillis),
	}

	for gi, g := range t.Prepare {
		group := pipeline.PrepareGroup{
			AssignTo: pipeline.AssignTo{Params: g.AssignTo.Params, Body: g.AssignTo.Body},
		}
		for ri, r := range g.Requests {
			ro, err := r.RequestConfig.override()
			if err != nil {
				return cfg, fmt.Errorf("prepare[%d].requests[%d]: %w", gi, ri, err)
			}
			step := pipeline.PrepareStep{Name: r.Name, Override: ro, SuccessCondition: r.SuccessCondition}
			if r.Retry != nil {
				p := r.Retry.Policy()
				step.Retry = &p
			}
			group.Requests = append(group.Requests, step)
		}
		cfg.Prepare = append(cfg.Prepare, group)
	}
	return cfg, nil
}

// Location resolves default_timezone.
func (t *Task) Location() (*time.Location, error) {
	return time.LoadLocation(t.DefaultTimezone)
}

// Httpc builds the HTTP client settings.
func (c ClientConfig) Httpc() (httpc.Httpc, error) {
	h := httpc.Httpc{Timeout: c.Timeout}
	if !c.Insecure && c.MinTLSVersion == "" && c.MaxTLSVersion == "" {
		return h, nil
	}
	// #nosec G402 -- InsecureSkipVerify is an explicit user choice (client.insecure)
	cfg := &tls.Config{InsecureSkipVerify: c.Insecure}
	if c.MinTLSVersion != "" {
		if cfg.MinVersion = httpc.ParseTLSVersion(c.MinTLSVersion); cfg.MinVersion == 0 {
			return h, fmt.Errorf("unknown min_tls_version %q", c.MinTLSVersion)
		}
	}
	if c.MaxTLSVersion != "" {
		if cfg.MaxVersion = httpc.ParseTLSVersion(c.MaxTLSVersion); cfg.MaxVersion == 0 {
			return h, fmt.Errorf("unknown max_tls_version %q", c.MaxTLSVersion)
		}
	}
	if cfg.MinVersion != 0 && cfg.MaxVersion != 0 && cfg.MinVersion > cfg.MaxVersion {
		return h, errors.New("min_tls_version is greater than max_tls_version")
	}
	h.TlsConfig = cfg
	return h, nil
}
