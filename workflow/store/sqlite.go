package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:         DriverSQLite,
	insertIgnore: onConflictDoNothing,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS org_workflows (
			id TEXT NOT NULL PRIMARY KEY,
			org_id TEXT NOT NULL,
			source_pack_key TEXT NOT NULL DEFAULT '',
			source_template_id TEXT NULL,
			workflow_type TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL,
			is_locked INTEGER NOT NULL,
			editable_fields TEXT NOT NULL,
			steps TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(org_id, source_template_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_org ON org_workflows(org_id, name)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT NOT NULL PRIMARY KEY,
			org_id TEXT NOT NULL,
			org_workflow_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			sequential INTEGER NOT NULL,
			halt_on_failure INTEGER NOT NULL,
			initiated_by TEXT NOT NULL,
			target_entity_ref TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_org_started ON workflow_runs(org_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS step_runs (
			id TEXT NOT NULL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id),
			org_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			title TEXT NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			started_at TEXT NULL,
			completed_at TEXT NULL,
			notes TEXT NOT NULL DEFAULT '',
			output_links TEXT NOT NULL,
			version INTEGER NOT NULL,
			UNIQUE(run_id, sort_order)
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			org_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			event_data TEXT NOT NULL,
			emitted_at TEXT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, seq)`,
	},
}

// NewSQLiteStore creates a SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./opsflow.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store enables WAL mode, foreign keys and a busy timeout, and creates
// its tables on first use. It keeps a single open connection: SQLite allows
// one writer at a time, and a single connection makes every Update a fully
// serialised unit of work.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./opsflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
