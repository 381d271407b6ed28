package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/opsflow/workflow/emit"
)

// ErrVersionMismatch is returned by compare-and-swap writes in a Tx when the
// stored version differs from the expected one. The engine reports it to
// callers as ErrConflict.
var ErrVersionMismatch = errors.New("version mismatch")

// VersionMismatchError carries the version a failed compare-and-swap found.
// It matches ErrVersionMismatch with errors.Is.
type VersionMismatchError struct {
	ID     string
	Actual int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s has version %d", ErrVersionMismatch, e.ID, e.Actual)
}

func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}

// RunFilter selects runs for ListRuns. Empty fields do not filter.
type RunFilter struct {
	OrgID      string
	WorkflowID string
	Status     RunStatus
	Limit      int
}

// Reader is the read side of persistence.
//
// Get methods return ErrNotFound when the id does not exist.
type Reader interface {
	GetWorkflow(ctx context.Context, id string) (OrgWorkflow, error)

	// ListWorkflows returns the workflows of an organization ordered by name.
	ListWorkflows(ctx context.Context, orgID string) ([]OrgWorkflow, error)

	GetRun(ctx context.Context, id string) (WorkflowRun, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]WorkflowRun, error)

	GetStepRun(ctx context.Context, id string) (StepRun, error)

	// ListStepRuns returns the steps of a run ordered by sortOrder.
	ListStepRuns(ctx context.Context, runID string) ([]StepRun, error)
}

// Tx is one atomic unit of work. Writes become visible only when the
// function passed to Store.Update returns nil.
type Tx interface {
	Reader

	// LockRun reads a run and holds it against concurrent transactions until
	// the unit of work ends. All transitions inside one run are serialised
	// through this lock.
	LockRun(ctx context.Context, id string) (WorkflowRun, error)

	// InsertWorkflow stores wf unless the organization already has a workflow
	// with the same non-empty SourceTemplateID. It reports whether a row was
	// created. Safe against concurrent seeders.
	InsertWorkflow(ctx context.Context, wf OrgWorkflow) (bool, error)

	// UpdateWorkflow replaces wf if the stored version equals expectedVersion.
	// wf.Version holds the new version. Returns a *VersionMismatchError
	// otherwise.
	UpdateWorkflow(ctx context.Context, wf OrgWorkflow, expectedVersion int) error

	InsertRun(ctx context.Context, run WorkflowRun) error
	InsertStepRuns(ctx context.Context, steps []StepRun) error
	UpdateRun(ctx context.Context, run WorkflowRun) error

	// UpdateStepRun replaces step if the stored version equals
	// expectedVersion. step.Version holds the new version.
	UpdateStepRun(ctx context.Context, step StepRun, expectedVersion int) error

	// AppendEvents adds events to the transactional outbox.
	AppendEvents(ctx context.Context, events ...emit.Event) error
}

// Store persists templates, runs and the event outbox.
//
// Implementations live in the store sub-package: an in-memory store and SQL
// stores for SQLite, MySQL and PostgreSQL.
type Store interface {
	Reader

	// Update runs fn as a single atomic unit. If fn returns an error, or the
	// commit fails, none of its writes are persisted.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// PendingEvents returns outbox events not yet marked emitted, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]emit.Event, error)

	// MarkEventsEmitted acknowledges delivered events.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error

	Close() error
}
