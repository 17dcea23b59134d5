// Package sqlite holds the SQLite dialect of the row store.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/apingest/internal/constants"
	_ "modernc.org/sqlite"
)

// Dialect implements the SQL differences of SQLite.
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// Placeholder returns SQLite's positional placeholder; index is ignored.
func (d *Dialect) Placeholder(int) string {
	return "?"
}

// DSN builds a connection string for a database file.
func (d *Dialect) DSN(path string) string {
	if path == "" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, constants.SQLiteBusyTimeoutMS)
}

// BoolToStorage stores booleans as integers 0/1.
func (d *Dialect) BoolToStorage(b bool) any {
	if b {
		return 1
	}
	return 0
}

// TimeToStorage stores timestamps as RFC3339Nano text.
func (d *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC().Format(time.RFC3339Nano)
}

// BoolFromStorage reads an integer flag.
func (d *Dialect) BoolFromStorage(val any) bool {
	switch v := val.(type) {
	case int64:
		return v != 0
	case int:
		return v != 0
	case bool:
		return v
	}
	return false
}

// TimeFromStorage parses RFC3339Nano text; NULL or garbage yields the zero time.
func (d *Dialect) TimeFromStorage(val any) time.Time {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		return v.UTC()
	default:
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Connect opens the database with a single connection; SQLite allows one writer.
func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	db.SetMaxOpenConns(constants.SQLiteMaxConnections)
	db.SetMaxIdleConns(constants.SQLiteMaxConnections)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// EnsureStatements returns the CREATE TABLE statements for the runs and rows tables.
func (d *Dialect) EnsureStatements(runs, rows string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT PRIMARY KEY, task TEXT NOT NULL, started_at TEXT NOT NULL, finished_at TEXT NULL, page_count INTEGER NOT NULL DEFAULT 0, row_count INTEGER NOT NULL DEFAULT 0, failed INTEGER NOT NULL DEFAULT 0, error TEXT NULL)", runs),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL, page INTEGER NOT NULL, seq INTEGER NOT NULL, column_name TEXT NOT NULL, value TEXT NOT NULL, ingested_at TEXT NOT NULL)", rows),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_run_idx ON %s (run_id, page, seq)", rows, rows),
	}
}

// DriverName returns the driver name for logging
func (d *Dialect) DriverName() string {
	return "sqlite"
}
