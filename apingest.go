// Package apingest pulls rows out of paginated HTTP JSON APIs. A task document
// describes the request, how to judge and retry responses, how to page and how
// to turn each response into rows; the rows are written to a sink.
package apingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/apingest/internal/config"
	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/pipeline"
	"github.com/loykin/apingest/internal/sink"
)

// Re-export commonly used types for public API

// Task is a decoded, defaulted and validated task document.
type Task = config.Task

type Pipeline = pipeline.Pipeline

type PipelineConfig = pipeline.Config

type Page = pipeline.Page

type Row = pipeline.Row

type Option = pipeline.Option

// Run is the history record of one ingestion.
type Run = sink.Run

type Record = sink.Record

type Sink = sink.Sink

// Errors a run can end with.
type (
	ConfigurationError        = pipeline.ConfigurationError
	TransportError            = pipeline.TransportError
	UnsuccessfulResponseError = pipeline.UnsuccessfulResponseError
	EvaluationError           = pipeline.EvaluationError
	PrepareStepError          = pipeline.PrepareStepError
)

var (
	WithTransport = pipeline.WithTransport
	WithEvaluator = pipeline.WithEvaluator
	WithSleep     = pipeline.WithSleep
)

// ErrNoHistory is returned by ListRuns for outputs that keep no run history.
var ErrNoHistory = errors.New("output type keeps no run history")

// LoadTask reads a task document from path. vars override the document's env
// list; nil is fine.
func LoadTask(path string, vars map[string]string) (*Task, error) {
	return config.Load(path, vars)
}

// ParseTask decodes a task document from YAML.
func ParseTask(data []byte, vars map[string]string) (*Task, error) {
	return config.Parse(data, vars)
}

// NewPipeline compiles t into a pipeline. The HTTP client honours t.Client
// unless a transport option is given.
func NewPipeline(t *Task, opts ...Option) (*Pipeline, error) {
	cfg, err := t.Pipeline()
	if err != nil {
		return nil, err
	}
	h, err := t.Client.Httpc()
	if err != nil {
		return nil, err
	}
	all := append([]Option{pipeline.WithTransport(httpc.NewClient(h))}, opts...)
	return pipeline.New(cfg, all...)
}

// Validate compiles every expression of t without sending a request.
func Validate(t *Task) error {
	_, err := NewPipeline(t)
	return err
}

func sinkConfig(t *Task) sink.Config {
	return sink.Config{
		Type:      t.Output.Type,
		Path:      t.Output.Path,
		DSN:       t.Output.DSN,
		Table:     t.Output.Table,
		RunsTable: t.Output.RunsTable,
	}
}

// OpenSink opens the output configured by t.
func OpenSink(ctx context.Context, t *Task) (Sink, error) {
	return sink.Open(ctx, sinkConfig(t))
}

// Ingest runs t once, writing its rows to the configured output. name labels
// the run in the history.
func Ingest(ctx context.Context, t *Task, name string, opts ...Option) (*Run, error) {
	p, err := NewPipeline(t, opts...)
	if err != nil {
		return nil, err
	}
	loc, err := t.Location()
	if err != nil {
		return nil, err
	}
	s, err := OpenSink(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	run, err := sink.Ingest(ctx, p, s, name, loc)
	if cerr := s.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return run, err
}

// ListRuns returns the run history kept by a database output, oldest first.
func ListRuns(ctx context.Context, t *Task) ([]Run, error) {
	switch t.Output.Type {
	case sink.TypeSQLite, sink.TypePostgres:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, t.Output.Type)
	}
	s, err := sink.OpenSQL(ctx, sinkConfig(t))
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s.ListRuns(ctx)
}
