package workflow_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dshills/opsflow/workflow"
)

func TestSweeperFailsStaleSteps(t *testing.T) {
	h := newHarness(t, workflow.WithPolicy(workflow.WorkflowTypeCustom, workflow.ParallelRunPolicy))
	wf := h.customWorkflow(workflow.WorkflowTypeCustom, workflow.StepTypeTask, workflow.StepTypeTask, workflow.StepTypeTask)
	view := h.startRun(wf.ID)
	stale, fresh, idle := view.Steps[0], view.Steps[1], view.Steps[2]

	h.mustStart(stale.ID)
	h.clock.Advance(3 * time.Hour)
	h.mustStart(fresh.ID)
	h.clock.Advance(30 * time.Minute)

	sweeper := workflow.NewSweeper(h.engine)
	res, err := sweeper.FailStale(h.ctx, testOrg, 2*time.Hour)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if res.Failed != 1 || res.Conflicts != 0 {
		t.Errorf("result = %+v, want one failure", res)
	}

	got := h.step(stale.ID)
	if got.Status != workflow.StepFailed || !strings.HasPrefix(got.Notes, "stale:") {
		t.Errorf("stale step = %s %q", got.Status, got.Notes)
	}
	if s := h.step(fresh.ID); s.Status != workflow.StepInProgress {
		t.Errorf("fresh step = %s", s.Status)
	}
	if s := h.step(idle.ID); s.Status != workflow.StepPending {
		t.Errorf("pending step = %s", s.Status)
	}

	events := h.events.GetHistory(testOrg)
	last := events[len(events)-1]
	if last.EventType != workflow.EventStepFailed || last.ActorID != workflow.SweeperActorID {
		t.Errorf("last event = %+v", last)
	}

	res, err = sweeper.FailStale(h.ctx, testOrg, 2*time.Hour)
	if err != nil || res.Failed != 0 {
		t.Errorf("second sweep = %+v, %v", res, err)
	}
}

func TestSweeperFailsRunUnderDefaultPolicy(t *testing.T) {
	h := newHarness(t)
	wf := h.customWorkflow(workflow.WorkflowTypeOnboarding, workflow.StepTypeTask, workflow.StepTypeTask)
	view := h.startRun(wf.ID)
	h.mustStart(view.Steps[0].ID)
	h.clock.Advance(48 * time.Hour)

	res, err := workflow.NewSweeper(h.engine).FailStale(h.ctx, testOrg, 24*time.Hour)
	if err != nil || res.Failed != 1 {
		t.Fatalf("FailStale = %+v, %v", res, err)
	}
	if got := h.run(view.Run.ID).Status; got != workflow.RunFailed {
		t.Errorf("run status = %s, want failed", got)
	}
}

func TestSweeperValidation(t *testing.T) {
	h := newHarness(t)
	sweeper := workflow.NewSweeper(h.engine)
	_, err := sweeper.FailStale(h.ctx, testOrg, 0)
	requireKind(t, err, workflow.ErrInvalidArgument)
	_, err = sweeper.FailStale(h.ctx, "", time.Hour)
	requireKind(t, err, workflow.ErrInvalidArgument)
}
