package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StartRun instantiates a run of an active workflow.
//
// Every step of the template becomes a pending StepRun carrying a frozen copy
// of its StepSpec. Later edits to the template never reach existing runs.
// The run's policy is resolved from the workflow type at this moment.
func (e *Engine) StartRun(ctx context.Context, orgID, workflowID, initiatedBy, targetEntityRef string) (view RunView, err error) {
	start := time.Now()
	defer func() { e.observe("start_run", start, err) }()

	if err := requireArg("org id", orgID); err != nil {
		return RunView{}, err
	}
	if err := requireArg("initiated by", initiatedBy); err != nil {
		return RunView{}, err
	}

	now := e.cfg.clock()
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return lookupErr(err, EntityWorkflow, workflowID)
		}
		if wf.OrgID != orgID {
			return notFound(EntityWorkflow, workflowID)
		}
		if !wf.IsActive {
			ee := newError(ErrWorkflowInactive, "workflow %s is inactive", workflowID)
			ee.WorkflowID = workflowID
			return ee
		}
		if len(wf.Steps) == 0 {
			ee := newError(ErrEmptyWorkflow, "workflow %s has no steps", workflowID)
			ee.WorkflowID = workflowID
			return ee
		}
		specs, err := NormalizeSteps(wf.Steps)
		if err != nil {
			return newError(ErrInvalidArgument, "workflow %s: %v", workflowID, err)
		}

		run := WorkflowRun{
			ID:              e.cfg.newID(),
			OrgID:           orgID,
			OrgWorkflowID:   wf.ID,
			WorkflowType:    wf.WorkflowType,
			WorkflowName:    wf.Name,
			Status:          RunRunning,
			Policy:          e.PolicyFor(wf.WorkflowType),
			InitiatedBy:     initiatedBy,
			TargetEntityRef: targetEntityRef,
			StartedAt:       now,
		}
		steps := make([]StepRun, len(specs))
		for i, spec := range specs {
			steps[i] = StepRun{
				ID:      e.cfg.newID(),
				RunID:   run.ID,
				OrgID:   orgID,
				Spec:    spec,
				Status:  StepPending,
				Version: 1,
			}
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if err := tx.InsertStepRuns(ctx, steps); err != nil {
			return fmt.Errorf("insert step runs: %w", err)
		}
		log.add(e.runEvent(EventRunStarted, run, initiatedBy, now, map[string]interface{}{
			"workflow_version":  wf.Version,
			"steps":             len(steps),
			"target_entity_ref": targetEntityRef,
		}))
		view = RunView{Run: run, Steps: steps}
		return nil
	})
	if err != nil {
		return RunView{}, err
	}

	e.cfg.metrics.RunStarted(view.Run.WorkflowType)
	e.cfg.logger.Info("run started",
		zap.String("run_id", view.Run.ID),
		zap.String("org_id", orgID),
		zap.String("workflow_id", workflowID),
		zap.Int("steps", len(view.Steps)))
	return view, nil
}
