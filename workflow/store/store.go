// Package store provides persistence backends for the workflow engine.
//
// MemStore keeps everything in process memory and suits tests and demos.
// SQLStore is one implementation over database/sql shared by three dialects:
//
//   - SQLite via modernc.org/sqlite (NewSQLiteStore), single file, zero setup
//   - MySQL/MariaDB via github.com/go-sql-driver/mysql (NewMySQLStore)
//   - PostgreSQL via github.com/jackc/pgx/v5 (NewPostgresStore)
//
// Every backend keeps a transactional event outbox: events appended inside
// Update are committed with the state change they describe.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/opsflow/workflow"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Open creates a store for driver. dsn is a file path for sqlite and a
// connection string for mysql and postgres; it is ignored for memory.
func Open(driver, dsn string) (workflow.Store, error) {
	var (
		st  *SQLStore
		err error
	)
	switch strings.ToLower(driver) {
	case DriverMemory, "":
		return NewMemStore(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "opsflow.db"
		}
		st, err = NewSQLiteStore(dsn)
	case DriverMySQL:
		st, err = NewMySQLStore(dsn)
	case DriverPostgres, "postgresql", "pgx":
		st, err = NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// timeLayout is a fixed-width UTC layout so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func cloneRun(r workflow.WorkflowRun) workflow.WorkflowRun {
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
