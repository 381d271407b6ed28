package workflow

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these
// sentinels, so callers branch with errors.Is and read detail with errors.As
// on *EngineError.
var (
	// ErrInvalidTransition indicates an illegal status change for a step, or
	// any step change inside a run that is no longer running.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict indicates the caller's expected version is stale.
	// Re-read the entity and retry.
	ErrConflict = errors.New("version conflict")

	// ErrLocked indicates a content edit on a locked template.
	ErrLocked = errors.New("workflow is locked")

	// ErrFieldNotEditable indicates a patch touched a field outside the
	// template's editable allow-list.
	ErrFieldNotEditable = errors.New("field not editable")

	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")

	// ErrWorkflowInactive indicates an attempt to start a deactivated template.
	ErrWorkflowInactive = errors.New("workflow is inactive")

	// ErrEmptyWorkflow indicates an attempt to start a template without steps.
	ErrEmptyWorkflow = errors.New("workflow has no steps")

	// ErrPredecessorIncomplete indicates a sequential run has an earlier step
	// that is not terminal yet.
	ErrPredecessorIncomplete = errors.New("predecessor step incomplete")

	// ErrNotRejectable indicates reject on a step whose type is not approval class.
	ErrNotRejectable = errors.New("step is not rejectable")

	// ErrAlreadyTerminal indicates cancellation of a run that already ended.
	ErrAlreadyTerminal = errors.New("run already terminal")

	// ErrNotRestorable indicates restore on a template that has no pack source.
	ErrNotRestorable = errors.New("workflow not restorable")

	// ErrNotFound indicates the referenced entity does not exist in the
	// caller's organization.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed input (missing notes, bad steps).
	ErrInvalidArgument = errors.New("invalid argument")
)

var errorCodes = map[error]string{
	ErrInvalidTransition:     "INVALID_TRANSITION",
	ErrConflict:              "CONFLICT",
	ErrLocked:                "LOCKED",
	ErrFieldNotEditable:      "FIELD_NOT_EDITABLE",
	ErrForbidden:             "FORBIDDEN",
	ErrWorkflowInactive:      "WORKFLOW_INACTIVE",
	ErrEmptyWorkflow:         "EMPTY_WORKFLOW",
	ErrPredecessorIncomplete: "PREDECESSOR_INCOMPLETE",
	ErrNotRejectable:         "NOT_REJECTABLE",
	ErrAlreadyTerminal:       "ALREADY_TERMINAL",
	ErrNotRestorable:         "NOT_RESTORABLE",
	ErrNotFound:              "NOT_FOUND",
	ErrInvalidArgument:       "INVALID_ARGUMENT",
}

// EngineError is the structured failure returned by engine operations.
//
// Only the fields relevant to the failure are set. For example a Conflict
// carries ExpectedVersion and ActualVersion, an InvalidTransition carries
// From and To, and a PredecessorIncomplete carries BlockingStepRunID.
type EngineError struct {
	Code    string
	Message string
	Err     error

	WorkflowID string
	RunID      string
	StepRunID  string

	ExpectedVersion int
	ActualVersion   int

	From string
	To   string

	Field             FieldName
	BlockingStepRunID string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the error kind sentinel.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-reading and retrying can succeed.
func (e *EngineError) Retryable() bool {
	return errors.Is(e.Err, ErrConflict)
}

func newError(kind error, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    errorCodes[kind],
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}

func conflictError(entity, id string, expected, actual int) *EngineError {
	e := newError(ErrConflict, "%s %s: expected version %d, found %d", entity, id, expected, actual)
	e.ExpectedVersion = expected
	e.ActualVersion = actual
	return e
}

func transitionError(step StepRun, to StepStatus) *EngineError {
	e := newError(ErrInvalidTransition, "step %s: cannot move from %s to %s", step.ID, step.Status, to)
	e.RunID = step.RunID
	e.StepRunID = step.ID
	e.From = string(step.Status)
	e.To = string(to)
	return e
}

// IsRetryable reports whether err is a Conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
