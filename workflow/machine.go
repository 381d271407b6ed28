package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// transition describes one requested step status change.
type transition struct {
	operation string
	actorID   string
	stepRunID string
	expected  int
	to        StepStatus
	from      []StepStatus
	assign    bool
	notes     string
	outputs   []OutputLink
}

// StartStep moves a pending step to in_progress. When assign is true the
// actor becomes the step's assignee.
func (e *Engine) StartStep(ctx context.Context, actorID, stepRunID string, expectedVersion int, assign bool) (StepRun, error) {
	return e.transition(ctx, transition{
		operation: "start_step",
		actorID:   actorID,
		stepRunID: stepRunID,
		expected:  expectedVersion,
		to:        StepInProgress,
		from:      []StepStatus{StepPending},
		assign:    assign,
	})
}

// CompleteStep moves an in_progress step to completed, recording the
// produced output links and optional notes.
func (e *Engine) CompleteStep(ctx context.Context, actorID, stepRunID string, expectedVersion int, outputs []OutputLink, notes string) (StepRun, error) {
	return e.transition(ctx, transition{
		operation: "complete_step",
		actorID:   actorID,
		stepRunID: stepRunID,
		expected:  expectedVersion,
		to:        StepCompleted,
		from:      []StepStatus{StepInProgress},
		notes:     notes,
		outputs:   outputs,
	})
}

// RejectStep moves an in_progress approval-class step to rejected.
// Notes are required.
func (e *Engine) RejectStep(ctx context.Context, actorID, stepRunID string, expectedVersion int, notes string) (StepRun, error) {
	return e.transition(ctx, transition{
		operation: "reject_step",
		actorID:   actorID,
		stepRunID: stepRunID,
		expected:  expectedVersion,
		to:        StepRejected,
		from:      []StepStatus{StepInProgress},
		notes:     notes,
	})
}

// SkipStep moves a pending step to skipped. The actor must hold admin
// capability in the run's organization. A reason is required.
func (e *Engine) SkipStep(ctx context.Context, actorID, stepRunID string, expectedVersion int, reason string) (StepRun, error) {
	return e.transition(ctx, transition{
		operation: "skip_step",
		actorID:   actorID,
		stepRunID: stepRunID,
		expected:  expectedVersion,
		to:        StepSkipped,
		from:      []StepStatus{StepPending},
		notes:     reason,
	})
}

// FailStep records a system failure of a pending or in_progress step. A
// pending step is gated like any other exit from pending. A reason is
// required.
func (e *Engine) FailStep(ctx context.Context, actorID, stepRunID string, expectedVersion int, reason string) (StepRun, error) {
	return e.transition(ctx, transition{
		operation: "fail_step",
		actorID:   actorID,
		stepRunID: stepRunID,
		expected:  expectedVersion,
		to:        StepFailed,
		from:      []StepStatus{StepPending, StepInProgress},
		notes:     reason,
	})
}

func (t transition) allowedFrom(s StepStatus) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// gated reports whether the transition takes a step out of pending, which
// sequential runs only allow once every predecessor is terminal.
func (t transition) gated(current StepStatus) bool {
	return current == StepPending
}

func (e *Engine) transition(ctx context.Context, t transition) (step StepRun, err error) {
	start := time.Now()
	defer func() { e.observe(t.operation, start, err) }()

	if err := requireArg("step run id", t.stepRunID); err != nil {
		return StepRun{}, err
	}
	switch t.to {
	case StepRejected:
		if strings.TrimSpace(t.notes) == "" {
			return StepRun{}, newError(ErrInvalidArgument, "notes are required to reject a step")
		}
	case StepSkipped, StepFailed:
		if strings.TrimSpace(t.notes) == "" {
			return StepRun{}, newError(ErrInvalidArgument, "a reason is required to %s a step", strings.TrimSuffix(t.operation, "_step"))
		}
	}

	// The step's run is resolved up front so the run lock is the first
	// read inside the transaction.
	ref, err := e.store.GetStepRun(ctx, t.stepRunID)
	if err != nil {
		return StepRun{}, lookupErr(err, EntityStepRun, t.stepRunID)
	}
	if t.to == StepSkipped && !e.cfg.authorizer.HasAdminCapability(ctx, t.actorID, ref.OrgID) {
		ee := newError(ErrForbidden, "actor %s cannot skip steps in org %s", t.actorID, ref.OrgID)
		ee.RunID = ref.RunID
		ee.StepRunID = ref.ID
		return StepRun{}, ee
	}

	now := e.cfg.clock()
	var finished *WorkflowRun
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		finished = nil
		run, err := tx.LockRun(ctx, ref.RunID)
		if err != nil {
			return lookupErr(err, EntityRun, ref.RunID)
		}
		steps, err := tx.ListStepRuns(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("list step runs: %w", err)
		}
		idx := -1
		for i := range steps {
			if steps[i].ID == t.stepRunID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notFound(EntityStepRun, t.stepRunID)
		}
		current := steps[idx]

		if run.Status != RunRunning {
			ee := transitionError(current, t.to)
			ee.Message = fmt.Sprintf("step %s: run %s is %s", current.ID, run.ID, run.Status)
			return ee
		}
		if current.Version != t.expected {
			ee := e.conflict(EntityStepRun, current.ID, t.expected, current.Version)
			ee.RunID = run.ID
			ee.StepRunID = current.ID
			return ee
		}
		if !t.allowedFrom(current.Status) {
			return transitionError(current, t.to)
		}
		if t.to == StepRejected && !current.Spec.Type.IsApproval() {
			ee := newError(ErrNotRejectable, "step %s of type %s cannot be rejected", current.ID, current.Spec.Type)
			ee.RunID = run.ID
			ee.StepRunID = current.ID
			return ee
		}
		if run.Policy.Sequential && t.gated(current.Status) {
			if blocking, ok := blockingPredecessor(steps, current); ok {
				ee := newError(ErrPredecessorIncomplete, "step %s is blocked by step %s (%s)", current.ID, blocking.ID, blocking.Status)
				ee.RunID = run.ID
				ee.StepRunID = current.ID
				ee.BlockingStepRunID = blocking.ID
				return ee
			}
		}

		from := current.Status
		next := current.Clone()
		next.Status = t.to
		next.Version = t.expected + 1
		switch t.to {
		case StepInProgress:
			next.StartedAt = &now
			if t.assign {
				next.AssignedTo = t.actorID
			}
		default:
			next.CompletedAt = &now
			if t.notes != "" {
				next.Notes = t.notes
			}
			if len(t.outputs) > 0 {
				next.OutputLinks = append([]OutputLink(nil), t.outputs...)
			}
		}
		if err := tx.UpdateStepRun(ctx, next, t.expected); err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				ee := e.swapConflict(EntityStepRun, current.ID, t.expected, err)
				ee.RunID = run.ID
				ee.StepRunID = current.ID
				return ee
			}
			return fmt.Errorf("update step run: %w", err)
		}
		steps[idx] = next
		log.add(e.stepEvent(next, from, t.actorID, now))

		status := deriveRunStatus(steps, run.Policy)
		if status != run.Status {
			run.Status = status
			run.CompletedAt = &now
			if err := tx.UpdateRun(ctx, run); err != nil {
				return fmt.Errorf("update run: %w", err)
			}
			meta := map[string]interface{}{"step_run_id": next.ID}
			if status == RunFailed {
				meta["cause"] = failureCause(steps)
				meta["reason"] = next.Notes
			}
			log.add(e.runEvent(runEventTypes[status], run, t.actorID, now, meta))
			finished = &run
		}
		step = next
		return nil
	})
	if err != nil {
		return StepRun{}, err
	}

	if finished != nil {
		e.cfg.metrics.RunFinished(finished.WorkflowType, finished.Status)
		e.cfg.logger.Info("run finished",
			zap.String("run_id", finished.ID),
			zap.String("status", string(finished.Status)))
	}
	return step, nil
}

// CancelRun ends a running run. Every pending or in_progress step becomes
// skipped with the cancellation reason as notes, and the run becomes
// cancelled, all in one atomic unit.
func (e *Engine) CancelRun(ctx context.Context, actorID, runID, reason string) (view RunView, err error) {
	start := time.Now()
	defer func() { e.observe("cancel_run", start, err) }()

	if err := requireArg("run id", runID); err != nil {
		return RunView{}, err
	}
	if err := requireArg("reason", reason); err != nil {
		return RunView{}, err
	}

	now := e.cfg.clock()
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return lookupErr(err, EntityRun, runID)
		}
		if run.Status.Terminal() {
			ee := newError(ErrAlreadyTerminal, "run %s is already %s", runID, run.Status)
			ee.RunID = runID
			return ee
		}
		steps, err := tx.ListStepRuns(ctx, runID)
		if err != nil {
			return fmt.Errorf("list step runs: %w", err)
		}
		skipped := 0
		for i, s := range steps {
			if s.Status.Terminal() {
				continue
			}
			next := s.Clone()
			next.Status = StepSkipped
			next.Notes = reason
			next.CompletedAt = &now
			next.Version = s.Version + 1
			if err := tx.UpdateStepRun(ctx, next, s.Version); err != nil {
				if errors.Is(err, ErrVersionMismatch) {
					ee := e.swapConflict(EntityStepRun, s.ID, s.Version, err)
					ee.RunID = runID
					ee.StepRunID = s.ID
					return ee
				}
				return fmt.Errorf("update step run: %w", err)
			}
			steps[i] = next
			skipped++
			log.add(e.stepEvent(next, s.Status, actorID, now))
		}
		run.Status = RunCancelled
		run.CancelReason = reason
		run.CompletedAt = &now
		if err := tx.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		log.add(e.runEvent(EventRunCancelled, run, actorID, now, map[string]interface{}{
			"reason":        reason,
			"skipped_steps": skipped,
		}))
		view = RunView{Run: run, Steps: steps}
		return nil
	})
	if err != nil {
		return RunView{}, err
	}

	e.cfg.metrics.RunFinished(view.Run.WorkflowType, RunCancelled)
	e.cfg.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("actor_id", actorID))
	return view, nil
}
