// Package sink persists the rows produced by an ingestion run together with a
// history record of the run itself.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/pipeline"
)

const (
	TypeStdout   = "stdout"
	TypeJSONL    = "jsonl"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Run is the history record of one ingestion.
// FinishedAt is zero while the run is in progress.
type Run struct {
	ID         string
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time
	Pages      int
	Rows       int
	Failed     bool
	Error      string
}

// Record is one stored row.
type Record struct {
	RunID      string `json:"run_id"`
	Page       int    `json:"page"`
	Seq        int    `json:"seq"`
	Column     string `json:"column"`
	Value      any    `json:"value"`
	IngestedAt string `json:"ingested_at"`
}

// Sink receives the pages of a run in order.
type Sink interface {
	Begin(ctx context.Context, run *Run) error
	Write(ctx context.Context, run *Run, records []Record) error
	Finish(ctx context.Context, run *Run) error
	Close() error
}

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, emit pipeline.EmitFunc) (pipeline.Result, error)
}

// Config selects and configures a sink.
type Config struct {
	Type      string
	Path      string
	DSN       string
	Table     string
	RunsTable string
}

// Open builds the sink named by cfg.Type.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeStdout, "":
		return NewJSONL(nil), nil
	case TypeJSONL:
		return OpenJSONLFile(cfg.Path)
	case TypeSQLite, TypePostgres:
		return OpenSQL(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported output type: %s", cfg.Type)
	}
}

// Ingest runs r and streams every page into s, bracketed by Begin and Finish.
// ingested_at is rendered in loc (UTC when nil). The returned Run reflects what
// was written, also when the run failed.
func Ingest(ctx context.Context, r Runner, s Sink, task string, loc *time.Location) (*Run, error) {
	if loc == nil {
		loc = time.UTC
	}
	run := &Run{ID: uuid.NewString(), Task: task, StartedAt: time.Now()}
	logger := common.GetLogger().WithComponent("sink").WithRun(run.ID)
	if err := s.Begin(ctx, run); err != nil {
		return run, fmt.Errorf("begin run: %w", err)
	}
	logger.Info("run started", "task", task)

	_, err := r.Run(ctx, func(ctx context.Context, page pipeline.Page) error {
		recs := Records(run.ID, page, time.Now().In(loc))
		if err := s.Write(ctx, run, recs); err != nil {
			return fmt.Errorf("write page %d: %w", page.Number, err)
		}
		run.Pages++
		run.Rows += len(recs)
		logger.WithPage(page.Number).Debug("page stored", "rows", len(recs))
		return nil
	})

	run.FinishedAt = time.Now()
	if err != nil {
		run.Failed = true
		run.Error = common.MaskSensitiveData(err.Error())
	}
	// the history record is written even when ctx was cancelled
	ferr := s.Finish(context.WithoutCancel(ctx), run)
	if ferr != nil {
		ferr = fmt.Errorf("finish run: %w", ferr)
	}
	if err == nil && ferr == nil {
		logger.Info("run finished", "pages", run.Pages, "rows", run.Rows)
	}
	return run, errors.Join(err, ferr)
}

// Records numbers the rows of page from 1 and stamps them with at.
func Records(runID string, page pipeline.Page, at time.Time) []Record {
	out := make([]Record, 0, len(page.Rows))
	for i, r := range page.Rows {
		out = append(out, Record{
			RunID:      runID,
			Page:       page.Number,
			Seq:        i + 1,
			Column:     r.Column,
			Value:      r.Value,
			IngestedAt: at.Format(time.RFC3339),
		})
	}
	return out
}
