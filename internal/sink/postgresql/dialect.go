// Package postgresql holds the PostgreSQL dialect of the row store.
package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect implements the SQL differences of PostgreSQL.
type Dialect struct{}

// NewDialect creates a new PostgreSQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// Placeholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// DSN returns dsn unchanged.
func (d *Dialect) DSN(dsn string) string {
	return dsn
}

func (d *Dialect) BoolToStorage(b bool) any {
	return b
}

func (d *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC()
}

func (d *Dialect) BoolFromStorage(val any) bool {
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

func (d *Dialect) TimeFromStorage(val any) time.Time {
	switch v := val.(type) {
	case time.Time:
		return v.UTC()
	case *time.Time:
		if v != nil {
			return v.UTC()
		}
	}
	return time.Time{}
}

// Connect establishes a connection to PostgreSQL with connection pooling
func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	return db, nil
}

// EnsureStatements returns the CREATE TABLE statements for the runs and rows tables.
func (d *Dialect) EnsureStatements(runs, rows string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT PRIMARY KEY, task TEXT NOT NULL, started_at TIMESTAMPTZ NOT NULL, finished_at TIMESTAMPTZ NULL, page_count INTEGER NOT NULL DEFAULT 0, row_count INTEGER NOT NULL DEFAULT 0, failed BOOLEAN NOT NULL DEFAULT FALSE, error TEXT NULL)", runs),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, run_id TEXT NOT NULL, page INTEGER NOT NULL, seq INTEGER NOT NULL, column_name TEXT NOT NULL, value JSONB NOT NULL, ingested_at TEXT NOT NULL)", rows),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_run_idx ON %s (run_id, page, seq)", rows, rows),
	}
}

// DriverName returns the driver name for logging
func (d *Dialect) DriverName() string {
	return "postgresql"
}
