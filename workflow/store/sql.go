package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/emit"
)

// SQLStore is a database/sql implementation of workflow.Store.
//
// One implementation serves SQLite, MySQL and PostgreSQL; the differences
// (placeholders, insert-or-ignore, row locks, DDL) live in a dialect.
// Create it with NewSQLiteStore, NewMySQLStore or NewPostgresStore.
//
// Schema:
//   - org_workflows: organization-owned templates, unique per
//     (org_id, source_template_id)
//   - workflow_runs: runs with their frozen policy
//   - step_runs: step execution state, unique per (run_id, sort_order)
//   - events_outbox: transactional event delivery
//
// Timestamps are stored as fixed-width UTC text so they compare and sort the
// same way in every dialect.
type SQLStore struct {
	db     *sql.DB
	d      dialect
	reader sqlReader
	mu     sync.RWMutex
	closed bool
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{
		db:     db,
		d:      d,
		reader: sqlReader{q: db, d: d},
	}
	if err := s.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *SQLStore) createTables(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i > 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}

// Dialect returns the dialect name: sqlite, mysql or postgres.
func (s *SQLStore) Dialect() string {
	return s.d.name
}

// DB exposes the underlying connection pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (workflow.OrgWorkflow, error) {
	if err := s.check(); err != nil {
		return workflow.OrgWorkflow{}, err
	}
	return s.reader.GetWorkflow(ctx, id)
}

func (s *SQLStore) ListWorkflows(ctx context.Context, orgID string) ([]workflow.OrgWorkflow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.reader.ListWorkflows(ctx, orgID)
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (workflow.WorkflowRun, error) {
	if err := s.check(); err != nil {
		return workflow.WorkflowRun{}, err
	}
	return s.reader.GetRun(ctx, id)
}

func (s *SQLStore) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.WorkflowRun, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.reader.ListRuns(ctx, filter)
}

func (s *SQLStore) GetStepRun(ctx context.Context, id string) (workflow.StepRun, error) {
	if err := s.check(); err != nil {
		return workflow.StepRun{}, err
	}
	return s.reader.GetStepRun(ctx, id)
}

func (s *SQLStore) ListStepRuns(ctx context.Context, runID string) ([]workflow.StepRun, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.reader.ListStepRuns(ctx, runID)
}

// Update runs fn inside one database transaction. The transaction is rolled
// back when fn returns an error and fn's error is returned unchanged.
func (s *SQLStore) Update(ctx context.Context, fn func(tx workflow.Tx) error) (err error) {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback() // Ignore rollback error when already returning error
		}
	}()

	if err = fn(&sqlTx{sqlReader: sqlReader{q: tx, d: s.d}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PendingEvents retrieves events from the outbox that haven't been emitted
// yet, in append order.
func (s *SQLStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := s.d.rebind(`
		SELECT event_data
		FROM events_outbox
		WHERE emitted_at IS NULL
		ORDER BY seq ASC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []emit.Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var event emit.Event
		if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// MarkEventsEmitted marks events as delivered so PendingEvents skips them.
func (s *SQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(eventIDs)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range eventIDs {
		args = append(args, id)
	}
	// #nosec G201 -- only placeholder marks are interpolated
	query := s.d.rebind(fmt.Sprintf(`
		UPDATE events_outbox
		SET emitted_at = ?
		WHERE emitted_at IS NULL AND id IN (%s)
	`, placeholders(len(eventIDs))))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark events as emitted: %w", err)
	}
	return nil
}

// Close closes the database connection. Calling Close more than once is safe.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrNotFound
	}
	return err
}

func nullIfEmpty(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const workflowColumns = `id, org_id, source_pack_key, source_template_id, workflow_type, name, description,
	is_active, is_locked, editable_fields, steps, version, created_at, updated_at`

const runColumns = `id, org_id, org_workflow_id, workflow_type, workflow_name, status, sequential,
	halt_on_failure, initiated_by, target_entity_ref, cancel_reason, started_at, completed_at`

const stepColumns = `id, run_id, org_id, sort_order, step_type, title, instructions, status,
	assigned_to, started_at, completed_at, notes, output_links, version`

// sqlReader implements workflow.Reader over a pool or a transaction.
type sqlReader struct {
	q querier
	d dialect
}

func (r sqlReader) GetWorkflow(ctx context.Context, id string) (workflow.OrgWorkflow, error) {
	query := r.d.rebind(`SELECT ` + workflowColumns + ` FROM org_workflows WHERE id = ?`)
	wf, err := scanWorkflow(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return workflow.OrgWorkflow{}, handleNotFound(err)
	}
	return wf, nil
}

func (r sqlReader) ListWorkflows(ctx context.Context, orgID string) ([]workflow.OrgWorkflow, error) {
	query := r.d.rebind(`SELECT ` + workflowColumns + ` FROM org_workflows WHERE org_id = ? ORDER BY name ASC, id ASC`)
	rows, err := r.q.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []workflow.OrgWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return out, nil
}

func (r sqlReader) GetRun(ctx context.Context, id string) (workflow.WorkflowRun, error) {
	query := r.d.rebind(`SELECT ` + runColumns + ` FROM workflow_runs WHERE id = ?`)
	run, err := scanRun(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return workflow.WorkflowRun{}, handleNotFound(err)
	}
	return run, nil
}

func (r sqlReader) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.WorkflowRun, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "org_workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []workflow.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return out, nil
}

func (r sqlReader) GetStepRun(ctx context.Context, id string) (workflow.StepRun, error) {
	query := r.d.rebind(`SELECT ` + stepColumns + ` FROM step_runs WHERE id = ?`)
	step, err := scanStepRun(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return workflow.StepRun{}, handleNotFound(err)
	}
	return step, nil
}

func (r sqlReader) ListStepRuns(ctx context.Context, runID string) ([]workflow.StepRun, error) {
	query := r.d.rebind(`SELECT ` + stepColumns + ` FROM step_runs WHERE run_id = ? ORDER BY sort_order ASC`)
	rows, err := r.q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []workflow.StepRun
	for rows.Next() {
		step, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step run rows: %w", err)
	}
	return out, nil
}

func scanWorkflow(row scanner) (workflow.OrgWorkflow, error) {
	var (
		wf             workflow.OrgWorkflow
		sourceTemplate sql.NullString
		workflowType   string
		editableJSON   string
		stepsJSON      string
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(&wf.ID, &wf.OrgID, &wf.SourcePackKey, &sourceTemplate, &workflowType, &wf.Name,
		&wf.Description, &wf.IsActive, &wf.IsLocked, &editableJSON, &stepsJSON, &wf.Version,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.OrgWorkflow{}, err
		}
		return workflow.OrgWorkflow{}, fmt.Errorf("failed to scan workflow: %w", err)
	}
	wf.SourceTemplateID = sourceTemplate.String
	wf.WorkflowType = workflow.WorkflowType(workflowType)
	if err := json.Unmarshal([]byte(editableJSON), &wf.EditableFields); err != nil {
		return workflow.OrgWorkflow{}, fmt.Errorf("failed to unmarshal editable fields: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
		return workflow.OrgWorkflow{}, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return workflow.OrgWorkflow{}, err
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return workflow.OrgWorkflow{}, err
	}
	return wf, nil
}

func scanRun(row scanner) (workflow.WorkflowRun, error) {
	var (
		run          workflow.WorkflowRun
		workflowType string
		status       string
		startedAt    string
		completedAt  sql.NullString
	)
	err := row.Scan(&run.ID, &run.OrgID, &run.OrgWorkflowID, &workflowType, &run.WorkflowName, &status,
		&run.Policy.Sequential, &run.Policy.HaltOnFailure, &run.InitiatedBy, &run.TargetEntityRef,
		&run.CancelReason, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.WorkflowRun{}, err
		}
		return workflow.WorkflowRun{}, fmt.Errorf("failed to scan run: %w", err)
	}
	run.WorkflowType = workflow.WorkflowType(workflowType)
	run.Status = workflow.RunStatus(status)
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return workflow.WorkflowRun{}, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return workflow.WorkflowRun{}, err
	}
	return run, nil
}

func scanStepRun(row scanner) (workflow.StepRun, error) {
	var (
		step        workflow.StepRun
		stepType    string
		status      string
		startedAt   sql.NullString
		completedAt sql.NullString
		linksJSON   string
	)
	err := row.Scan(&step.ID, &step.RunID, &step.OrgID, &step.Spec.SortOrder, &stepType, &step.Spec.Title,
		&step.Spec.Instructions, &status, &step.AssignedTo, &startedAt, &completedAt, &step.Notes,
		&linksJSON, &step.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.StepRun{}, err
		}
		return workflow.StepRun{}, fmt.Errorf("failed to scan step run: %w", err)
	}
	step.Spec.Type = workflow.StepType(stepType)
	step.Status = workflow.StepStatus(status)
	if step.StartedAt, err = parseNullTime(startedAt); err != nil {
		return workflow.StepRun{}, err
	}
	if step.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return workflow.StepRun{}, err
	}
	if err := json.Unmarshal([]byte(linksJSON), &step.OutputLinks); err != nil {
		return workflow.StepRun{}, fmt.Errorf("failed to unmarshal output links: %w", err)
	}
	return step, nil
}

// sqlTx implements workflow.Tx over a database transaction.
type sqlTx struct {
	sqlReader
}

// LockRun reads a run with a row lock (FOR UPDATE) where the dialect has
// one. SQLite serialises writers through its single connection instead.
func (tx *sqlTx) LockRun(ctx context.Context, id string) (workflow.WorkflowRun, error) {
	query := tx.d.rebind(`SELECT ` + runColumns + ` FROM workflow_runs WHERE id = ?` + tx.d.lockSuffix)
	run, err := scanRun(tx.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return workflow.WorkflowRun{}, handleNotFound(err)
	}
	return run, nil
}

func (tx *sqlTx) InsertWorkflow(ctx context.Context, wf workflow.OrgWorkflow) (bool, error) {
	editableJSON, err := json.Marshal(nonNilFields(wf.EditableFields))
	if err != nil {
		return false, fmt.Errorf("failed to marshal editable fields: %w", err)
	}
	stepsJSON, err := json.Marshal(nonNilSteps(wf.Steps))
	if err != nil {
		return false, fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := tx.d.rebind(tx.d.insertIgnore(`
		INSERT INTO org_workflows (` + workflowColumns + `)
		VALUES (` + placeholders(14) + `)
	`))
	res, err := tx.q.ExecContext(ctx, query,
		wf.ID, wf.OrgID, wf.SourcePackKey, nullIfEmpty(wf.SourceTemplateID), string(wf.WorkflowType),
		wf.Name, wf.Description, wf.IsActive, wf.IsLocked, string(editableJSON), string(stepsJSON),
		wf.Version, formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (tx *sqlTx) UpdateWorkflow(ctx context.Context, wf workflow.OrgWorkflow, expectedVersion int) error {
	editableJSON, err := json.Marshal(nonNilFields(wf.EditableFields))
	if err != nil {
		return fmt.Errorf("failed to marshal editable fields: %w", err)
	}
	stepsJSON, err := json.Marshal(nonNilSteps(wf.Steps))
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := tx.d.rebind(`
		UPDATE org_workflows
		SET workflow_type = ?, name = ?, description = ?, is_active = ?, is_locked = ?,
			editable_fields = ?, steps = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`)
	res, err := tx.q.ExecContext(ctx, query,
		string(wf.WorkflowType), wf.Name, wf.Description, wf.IsActive, wf.IsLocked,
		string(editableJSON), string(stepsJSON), wf.Version, formatTime(wf.UpdatedAt),
		wf.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return tx.checkSwapped(ctx, res, "org_workflows", wf.ID)
}

// checkSwapped turns a compare-and-swap that touched no row into
// ErrNotFound or a *VersionMismatchError holding the stored version.
func (tx *sqlTx) checkSwapped(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var version int
	// The locking read sees the latest committed row, not the snapshot.
	// #nosec G202 -- table is a constant chosen by the caller
	query := tx.d.rebind(`SELECT version FROM ` + table + ` WHERE id = ?` + tx.d.lockSuffix)
	if err := tx.q.QueryRowContext(ctx, query, id).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.ErrNotFound
		}
		return fmt.Errorf("failed to check %s row: %w", table, err)
	}
	return &workflow.VersionMismatchError{ID: id, Actual: version}
}

func (tx *sqlTx) InsertRun(ctx context.Context, run workflow.WorkflowRun) error {
	query := tx.d.rebind(`
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES (` + placeholders(13) + `)
	`)
	_, err := tx.q.ExecContext(ctx, query,
		run.ID, run.OrgID, run.OrgWorkflowID, string(run.WorkflowType), run.WorkflowName,
		string(run.Status), run.Policy.Sequential, run.Policy.HaltOnFailure, run.InitiatedBy,
		run.TargetEntityRef, run.CancelReason, formatTime(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (tx *sqlTx) InsertStepRuns(ctx context.Context, steps []workflow.StepRun) error {
	query := tx.d.rebind(`
		INSERT INTO step_runs (` + stepColumns + `)
		VALUES (` + placeholders(14) + `)
	`)
	for _, step := range steps {
		linksJSON, err := json.Marshal(nonNilLinks(step.OutputLinks))
		if err != nil {
			return fmt.Errorf("failed to marshal output links: %w", err)
		}
		_, err = tx.q.ExecContext(ctx, query,
			step.ID, step.RunID, step.OrgID, step.Spec.SortOrder, string(step.Spec.Type), step.Spec.Title,
			step.Spec.Instructions, string(step.Status), step.AssignedTo, nullTime(step.StartedAt),
			nullTime(step.CompletedAt), step.Notes, string(linksJSON), step.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step run %s: %w", step.ID, err)
		}
	}
	return nil
}

func (tx *sqlTx) UpdateRun(ctx context.Context, run workflow.WorkflowRun) error {
	query := tx.d.rebind(`
		UPDATE workflow_runs
		SET status = ?, cancel_reason = ?, completed_at = ?
		WHERE id = ?
	`)
	_, err := tx.q.ExecContext(ctx, query, string(run.Status), run.CancelReason, nullTime(run.CompletedAt), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (tx *sqlTx) UpdateStepRun(ctx context.Context, step workflow.StepRun, expectedVersion int) error {
	linksJSON, err := json.Marshal(nonNilLinks(step.OutputLinks))
	if err != nil {
		return fmt.Errorf("failed to marshal output links: %w", err)
	}
	query := tx.d.rebind(`
		UPDATE step_runs
		SET status = ?, assigned_to = ?, started_at = ?, completed_at = ?, notes = ?,
			output_links = ?, version = ?
		WHERE id = ? AND version = ?
	`)
	res, err := tx.q.ExecContext(ctx, query,
		string(step.Status), step.AssignedTo, nullTime(step.StartedAt), nullTime(step.CompletedAt),
		step.Notes, string(linksJSON), step.Version, step.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update step run: %w", err)
	}
	return tx.checkSwapped(ctx, res, "step_runs", step.ID)
}

func (tx *sqlTx) AppendEvents(ctx context.Context, events ...emit.Event) error {
	query := tx.d.rebind(`
		INSERT INTO events_outbox (id, org_id, entity_id, event_data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	for _, ev := range events {
		eventJSON, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = tx.q.ExecContext(ctx, query, ev.ID, ev.OrgID, ev.EntityID, string(eventJSON), formatTime(ev.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.ID, err)
		}
	}
	return nil
}

func nonNilFields(f []workflow.FieldName) []workflow.FieldName {
	if f == nil {
		return []workflow.FieldName{}
	}
	return f
}

func nonNilSteps(s []workflow.StepSpec) []workflow.StepSpec {
	if s == nil {
		return []workflow.StepSpec{}
	}
	return s
}

func nonNilLinks(l []workflow.OutputLink) []workflow.OutputLink {
	if l == nil {
		return []workflow.OutputLink{}
	}
	return l
}

var (
	_ workflow.Store = (*SQLStore)(nil)
	_ workflow.Tx    = (*sqlTx)(nil)
)
