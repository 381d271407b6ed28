package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:         DriverMySQL,
	insertIgnore: mysqlInsertIgnore,
	lockSuffix:   " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS org_workflows (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			org_id VARCHAR(255) NOT NULL,
			source_pack_key VARCHAR(255) NOT NULL DEFAULT '',
			source_template_id VARCHAR(255) NULL,
			workflow_type VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			is_locked BOOLEAN NOT NULL,
			editable_fields TEXT NOT NULL,
			steps MEDIUMTEXT NOT NULL,
			version INT NOT NULL,
			created_at VARCHAR(32) NOT NULL,
			updated_at VARCHAR(32) NOT NULL,
			UNIQUE KEY unique_org_template (org_id, source_template_id),
			INDEX idx_workflows_org (org_id, name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			org_id VARCHAR(255) NOT NULL,
			org_workflow_id VARCHAR(64) NOT NULL,
			workflow_type VARCHAR(64) NOT NULL,
			workflow_name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			sequential BOOLEAN NOT NULL,
			halt_on_failure BOOLEAN NOT NULL,
			initiated_by VARCHAR(255) NOT NULL,
			target_entity_ref VARCHAR(255) NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL,
			started_at VARCHAR(32) NOT NULL,
			completed_at VARCHAR(32) NULL,
			INDEX idx_runs_org_started (org_id, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS step_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			org_id VARCHAR(255) NOT NULL,
			sort_order INT NOT NULL,
			step_type VARCHAR(32) NOT NULL,
			title VARCHAR(255) NOT NULL,
			instructions TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			assigned_to VARCHAR(255) NOT NULL DEFAULT '',
			started_at VARCHAR(32) NULL,
			completed_at VARCHAR(32) NULL,
			notes TEXT NOT NULL,
			output_links TEXT NOT NULL,
			version INT NOT NULL,
			UNIQUE KEY unique_run_sort (run_id, sort_order),
			CONSTRAINT fk_step_runs_run FOREIGN KEY (run_id) REFERENCES workflow_runs(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			org_id VARCHAR(255) NOT NULL,
			entity_id VARCHAR(64) NOT NULL,
			event_data JSON NOT NULL,
			emitted_at VARCHAR(32) NULL,
			created_at VARCHAR(32) NOT NULL,
			INDEX idx_events_pending (emitted_at, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
}

// NewMySQLStore creates a MySQL/MariaDB-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example:
//
//	user:password@tcp(localhost:3306)/opsflow
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Read the DSN from the
//	environment or from configuration.
//
// Run transitions take a row lock on the run (SELECT ... FOR UPDATE), so
// concurrent writers on the same run are serialised by InnoDB.
func NewMySQLStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
