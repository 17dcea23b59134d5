package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/constants"
	"github.com/loykin/apingest/internal/sink/postgresql"
	"github.com/loykin/apingest/internal/sink/sqlite"
)

// Dialect hides the differences between the supported databases.
type Dialect interface {
	Placeholder(index int) string
	DSN(s string) string
	Connect(dsn string) (*sql.DB, error)
	EnsureStatements(runs, rows string) []string
	BoolToStorage(b bool) any
	TimeToStorage(t time.Time) any
	BoolFromStorage(val any) bool
	TimeFromStorage(val any) time.Time
	DriverName() string
}

// TableNames names the runs and rows tables.
type TableNames struct {
	Runs string
	Rows string
}

func defaultTableNames() TableNames {
	return TableNames{Runs: constants.DefaultRunsTable, Rows: constants.DefaultRowsTable}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func (t TableNames) validate() error {
	for _, n := range []string{t.Runs, t.Rows} {
		if !identRe.MatchString(n) {
			return fmt.Errorf("invalid table name %q", n)
		}
	}
	if t.Runs == t.Rows {
		return fmt.Errorf("runs and rows tables must differ, both are %q", t.Runs)
	}
	return nil
}

// SQLStore keeps rows and run history in SQLite or PostgreSQL.
type SQLStore struct {
	DB      *sql.DB
	dialect Dialect
	tables  TableNames
}

// DialectFor returns the dialect of an output type.
func DialectFor(typ string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case TypeSQLite, "sqlite3":
		return sqlite.NewDialect(), nil
	case TypePostgres, "postgresql", "pg":
		return postgresql.NewDialect(), nil
	default:
		return nil, fmt.Errorf("no SQL dialect for output type %q", typ)
	}
}

// OpenSQL connects to the database named by cfg and creates the tables.
func OpenSQL(ctx context.Context, cfg Config) (*SQLStore, error) {
	d, err := DialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	tables := defaultTableNames()
	if cfg.Table != "" {
		tables.Rows = cfg.Table
	}
	if cfg.RunsTable != "" {
		tables.Runs = cfg.RunsTable
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}

	target := cfg.Path
	if d.DriverName() == "postgresql" {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("output.dsn is required for postgres output")
		}
		target = cfg.DSN
	}
	db, err := d.Connect(d.DSN(target))
	if err != nil {
		return nil, err
	}
	s := &SQLStore{DB: db, dialect: d, tables: tables}
	if err := s.Ensure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	common.GetLogger().WithComponent("sink").Debug("database ready", "driver", d.DriverName(), "rows_table", tables.Rows, "runs_table", tables.Runs)
	return s, nil
}

// Ensure creates the tables when missing.
func (s *SQLStore) Ensure(ctx context.Context) error {
	for _, q := range s.dialect.EnsureStatements(s.tables.Runs, s.tables.Rows) {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.Placeholder(from + i)
	}
	return strings.Join(ph, ",")
}

func (s *SQLStore) Begin(ctx context.Context, run *Run) error {
	// #nosec G201 -- only validated table identifiers are interpolated
	q := fmt.Sprintf("INSERT INTO %s(run_id, task, started_at, page_count, row_count, failed) VALUES(%s)", s.tables.Runs, s.placeholders(1, 6))
	_, err := s.DB.ExecContext(ctx, q, run.ID, run.Task, s.dialect.TimeToStorage(run.StartedAt), 0, 0, s.dialect.BoolToStorage(false))
	return err
}

// Write stores one page of records and bumps the run counters in a single transaction.
func (s *SQLStore) Write(ctx context.Context, run *Run, records []Record) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// #nosec G201 -- only validated table identifiers are interpolated
	ins := fmt.Sprintf("INSERT INTO %s(run_id, page, seq, column_name, value, ingested_at) VALUES(%s)", s.tables.Rows, s.placeholders(1, 6))
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range records {
		b, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("encode record %d of page %d: %w", r.Seq, r.Page, err)
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Page, r.Seq, r.Column, string(b), r.IngestedAt); err != nil {
			return err
		}
	}

	// #nosec G201 -- only validated table identifiers are interpolated
	upd := fmt.Sprintf("UPDATE %s SET page_count = page_count + 1, row_count = row_count + %s WHERE run_id = %s",
		s.tables.Runs, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	if _, err := tx.ExecContext(ctx, upd, len(records), run.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Finish(ctx context.Context, run *Run) error {
	var errText *string
	if run.Error != "" {
		e := run.Error
		errText = &e
	}
	// #nosec G201 -- only validated table identifiers are interpolated
	q := fmt.Sprintf("UPDATE %s SET finished_at = %s, page_count = %s, row_count = %s, failed = %s, error = %s WHERE run_id = %s",
		s.tables.Runs, s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3),
		s.dialect.Placeholder(4), s.dialect.Placeholder(5), s.dialect.Placeholder(6))
	_, err := s.DB.ExecContext(ctx, q, s.dialect.TimeToStorage(run.FinishedAt), run.Pages, run.Rows,
		s.dialect.BoolToStorage(run.Failed), errText, run.ID)
	return err
}

// ListRuns returns the run history, oldest first.
func (s *SQLStore) ListRuns(ctx context.Context) ([]Run, error) {
	// #nosec G201 -- only validated table identifiers are interpolated
	q := fmt.Sprintf("SELECT run_id, task, started_at, finished_at, page_count, row_count, failed, error FROM %s ORDER BY started_at ASC, run_id ASC", s.tables.Runs)
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  any
			finishedAt any
			failed     any
			errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Task, &startedAt, &finishedAt, &r.Pages, &r.Rows, &failed, &errText); err != nil {
			return nil, err
		}
		r.StartedAt = s.dialect.TimeFromStorage(startedAt)
		r.FinishedAt = s.dialect.TimeFromStorage(finishedAt)
		r.Failed = s.dialect.BoolFromStorage(failed)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecords returns the records of one run in page and row order. Numeric
// values come back as json.Number.
func (s *SQLStore) ListRecords(ctx context.Context, runID string) ([]Record, error) {
	// #nosec G201 -- only validated table identifiers are interpolated
	q := fmt.Sprintf("SELECT run_id, page, seq, column_name, value, ingested_at FROM %s WHERE run_id = %s ORDER BY page ASC, seq ASC",
		s.tables.Rows, s.dialect.Placeholder(1))
	rows, err := s.DB.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		var (
			r   Record
			raw string
		)
		if err := rows.Scan(&r.RunID, &r.Page, &r.Seq, &r.Column, &raw, &r.IngestedAt); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&r.Value); err != nil {
			return nil, fmt.Errorf("decode record %d of page %d: %w", r.Seq, r.Page, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
