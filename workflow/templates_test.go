package workflow_test

import (
	"context"
	"testing"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/emit"
	"github.com/dshills/opsflow/workflow/pack"
	"github.com/dshills/opsflow/workflow/store"
)

func TestSeedIsIdempotent(t *testing.T) {
	h := newHarness(t)

	created, err := h.engine.Seed(h.ctx, testOrg, adminActor, pack.GenericPackKey, pack.CoachingPackKey)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if created != 7 {
		t.Fatalf("first Seed created %d, want 7", created)
	}

	created, err = h.engine.Seed(h.ctx, testOrg, adminActor, pack.GenericPackKey, pack.CoachingPackKey)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if created != 0 {
		t.Errorf("second Seed created %d, want 0", created)
	}

	wfs, err := h.engine.ListWorkflows(h.ctx, testOrg)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(wfs) != 7 {
		t.Fatalf("org has %d workflows, want 7", len(wfs))
	}
	seen := map[string]bool{}
	for _, wf := range wfs {
		if seen[wf.SourceTemplateID] {
			t.Errorf("duplicate workflow for %s", wf.SourceTemplateID)
		}
		seen[wf.SourceTemplateID] = true
		if !wf.IsActive || wf.Version != 1 {
			t.Errorf("%s: active %v version %d", wf.Name, wf.IsActive, wf.Version)
		}
	}

	seeded := h.eventTypes(emit.HistoryFilter{EventType: workflow.EventWorkflowSeeded})
	if len(seeded) != 7 {
		t.Errorf("got %d workflow.seeded events, want 7", len(seeded))
	}
}

func TestSeedCopiesPackPolicy(t *testing.T) {
	h := newHarness(t)
	offboarding := h.seeded("employee-offboarding")
	if !offboarding.IsLocked {
		t.Error("locked pack template seeded unlocked")
	}
	if len(offboarding.EditableFields) != 0 {
		t.Errorf("editable fields = %v, want none", offboarding.EditableFields)
	}
	if offboarding.SourcePackKey != pack.GenericPackKey || offboarding.SourceTemplateID != "generic/offboarding/employee-offboarding" {
		t.Errorf("source = %s %s", offboarding.SourcePackKey, offboarding.SourceTemplateID)
	}

	onboarding := h.seeded("employee-onboarding")
	if onboarding.IsLocked {
		t.Error("unlocked pack template seeded locked")
	}
	if !onboarding.Editable(workflow.FieldSteps) || onboarding.Editable(workflow.FieldWorkflowType) {
		t.Errorf("editable fields = %v", onboarding.EditableFields)
	}
}

func TestSeedScopesByOrganization(t *testing.T) {
	h := newHarness(t)
	for _, org := range []string{testOrg, otherOrg} {
		created, err := h.engine.Seed(h.ctx, org, adminActor, pack.GenericPackKey)
		if err != nil {
			t.Fatalf("Seed(%s): %v", org, err)
		}
		if created != 5 {
			t.Errorf("Seed(%s) created %d, want 5", org, created)
		}
	}
}

func TestSeedValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Seed(h.ctx, testOrg, adminActor)
	requireKind(t, err, workflow.ErrInvalidArgument)

	_, err = h.engine.Seed(h.ctx, "", adminActor, pack.GenericPackKey)
	requireKind(t, err, workflow.ErrInvalidArgument)

	created, err := h.engine.Seed(h.ctx, testOrg, adminActor, "no-such-pack")
	if err != nil || created != 0 {
		t.Errorf("unknown pack: created %d, err %v", created, err)
	}

	noCatalog, err := workflow.New(h.store, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = noCatalog.Seed(h.ctx, testOrg, adminActor, pack.GenericPackKey)
	requireKind(t, err, workflow.ErrInvalidArgument)
}

func TestReseedMissingNeverRevertsEdits(t *testing.T) {
	h := newHarness(t)
	wf := h.seeded("employee-onboarding")

	name := "Onboarding (EMEA)"
	edited, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, wf.ID, wf.Version, workflow.WorkflowPatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	created, err := h.engine.ReseedMissing(h.ctx, testOrg, adminActor, pack.GenericPackKey, pack.RecruitingPackKey)
	if err != nil {
		t.Fatalf("ReseedMissing: %v", err)
	}
	if created != 2 {
		t.Errorf("ReseedMissing created %d, want the 2 recruiting templates", created)
	}

	got, err := h.engine.GetWorkflow(h.ctx, testOrg, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Name != name || got.Version != edited.Version {
		t.Errorf("reseed touched an existing workflow: name %q version %d", got.Name, got.Version)
	}

	reseeded := h.eventTypes(emit.HistoryFilter{EventType: workflow.EventWorkflowReseeded})
	if len(reseeded) != 2 {
		t.Errorf("got %d workflow.reseeded events, want 2", len(reseeded))
	}
}

func TestRestoreFromPack(t *testing.T) {
	h := newHarness(t)
	wf := h.seeded("employee-onboarding")
	view := h.startRun(wf.ID)

	name := "Renamed"
	desc := "Local description"
	steps := []workflow.StepSpec{{Type: workflow.StepTypeTask, Title: "Only step", SortOrder: 1}}
	edited, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, wf.ID, wf.Version,
		workflow.WorkflowPatch{Name: &name, Description: &desc, Steps: steps})
	if err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	if _, err := h.engine.SetActive(h.ctx, testOrg, adminActor, wf.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	restored, err := h.engine.RestoreFromPack(h.ctx, testOrg, adminActor, wf.ID)
	if err != nil {
		t.Fatalf("RestoreFromPack: %v", err)
	}
	if restored.ID != wf.ID {
		t.Errorf("restore changed id: %s", restored.ID)
	}
	if restored.Name != wf.Name || restored.Description != wf.Description || len(restored.Steps) != len(wf.Steps) {
		t.Errorf("restore did not reset content: %+v", restored)
	}
	if restored.IsActive {
		t.Error("restore reactivated the workflow")
	}
	if restored.Version != edited.Version+2 {
		t.Errorf("version = %d, want %d", restored.Version, edited.Version+2)
	}

	// Runs keep their frozen snapshot.
	after, err := h.engine.GetRun(h.ctx, view.Run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(after.Steps) != len(view.Steps) || after.Steps[0].Spec != view.Steps[0].Spec {
		t.Errorf("restore rewrote run history: %+v", after.Steps)
	}

	if types := h.eventTypes(emit.HistoryFilter{EntityID: wf.ID, EventType: workflow.EventWorkflowRestored}); len(types) != 1 {
		t.Errorf("got %d restore events, want 1", len(types))
	}
}

func TestRestoreNotRestorable(t *testing.T) {
	h := newHarness(t)

	custom := h.customWorkflow(workflow.WorkflowTypeCustom, workflow.StepTypeTask)
	ee := requireKind(t, restore(h, h.engine, custom.ID), workflow.ErrNotRestorable)
	if ee.WorkflowID != custom.ID {
		t.Errorf("WorkflowID = %q", ee.WorkflowID)
	}

	// The source template disappeared from the catalog.
	wf := h.seeded("project-launch")
	empty, err := pack.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	engine, err := workflow.New(h.store, empty, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	requireKind(t, restore(h, engine, wf.ID), workflow.ErrNotRestorable)

	requireKind(t, restore(h, h.engine, "missing"), workflow.ErrNotFound)
}

func restore(h *harness, engine *workflow.Engine, id string) error {
	_, err := engine.RestoreFromPack(context.Background(), testOrg, adminActor, id)
	return err
}

func TestUpdateWorkflow(t *testing.T) {
	h := newHarness(t)
	onboarding := h.seeded("employee-onboarding")
	offboarding := h.seeded("employee-offboarding")
	name := "New name"
	custom := workflow.WorkflowTypeCustom

	t.Run("applies an editable patch", func(t *testing.T) {
		steps := []workflow.StepSpec{
			{Type: workflow.StepTypeChecklist, Title: "Second", SortOrder: 20},
			{Type: workflow.StepTypeForm, Title: "First", SortOrder: 10},
		}
		got, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, onboarding.ID, 1,
			workflow.WorkflowPatch{Name: &name, Steps: steps})
		if err != nil {
			t.Fatalf("UpdateWorkflow: %v", err)
		}
		if got.Version != 2 || got.Name != name {
			t.Errorf("got version %d name %q", got.Version, got.Name)
		}
		if got.Steps[0].Title != "First" || got.Steps[0].SortOrder != 1 || got.Steps[1].SortOrder != 2 {
			t.Errorf("steps not normalised: %+v", got.Steps)
		}
		events := h.events.GetHistoryWithFilter(testOrg, emit.HistoryFilter{EventType: workflow.EventWorkflowUpdated})
		if len(events) != 1 {
			t.Fatalf("got %d update events", len(events))
		}
		fields, _ := events[0].Metadata["fields"].([]string)
		if !equalStrings(fields, []string{"name", "steps"}) {
			t.Errorf("event fields = %v", events[0].Metadata["fields"])
		}
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		_, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, onboarding.ID, 1, workflow.WorkflowPatch{Name: &name})
		ee := requireKind(t, err, workflow.ErrConflict)
		if ee.ExpectedVersion != 1 || ee.ActualVersion != 2 {
			t.Errorf("expected/actual = %d/%d, want 1/2", ee.ExpectedVersion, ee.ActualVersion)
		}
		if !ee.Retryable() || !workflow.IsRetryable(err) {
			t.Error("conflict is not retryable")
		}
	})

	t.Run("field outside the allow-list", func(t *testing.T) {
		_, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, onboarding.ID, 2, workflow.WorkflowPatch{WorkflowType: &custom})
		ee := requireKind(t, err, workflow.ErrFieldNotEditable)
		if ee.Field != workflow.FieldWorkflowType {
			t.Errorf("Field = %q", ee.Field)
		}
	})

	t.Run("admin overrides the allow-list", func(t *testing.T) {
		got, err := h.engine.UpdateWorkflow(h.ctx, testOrg, adminActor, onboarding.ID, 2, workflow.WorkflowPatch{WorkflowType: &custom})
		if err != nil {
			t.Fatalf("UpdateWorkflow: %v", err)
		}
		if got.WorkflowType != custom || got.Version != 3 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("locked workflow rejects edits even from admins", func(t *testing.T) {
		for _, actor := range []string{userActor, adminActor} {
			_, err := h.engine.UpdateWorkflow(h.ctx, testOrg, actor, offboarding.ID, 1, workflow.WorkflowPatch{Name: &name})
			requireKind(t, err, workflow.ErrLocked)
		}
	})

	t.Run("invalid patches", func(t *testing.T) {
		empty := ""
		patches := map[string]workflow.WorkflowPatch{
			"no fields":  {},
			"empty name": {Name: &empty},
			"bad steps":  {Steps: []workflow.StepSpec{{Type: "dance", Title: "x", SortOrder: 1}}},
			"duplicate sort order": {Steps: []workflow.StepSpec{
				{Type: workflow.StepTypeTask, Title: "a", SortOrder: 1},
				{Type: workflow.StepTypeTask, Title: "b", SortOrder: 1},
			}},
		}
		for name, patch := range patches {
			_, err := h.engine.UpdateWorkflow(h.ctx, testOrg, adminActor, onboarding.ID, 3, patch)
			if err == nil {
				t.Errorf("%s: accepted", name)
				continue
			}
			requireKind(t, err, workflow.ErrInvalidArgument)
		}
	})

	t.Run("other organization cannot see the workflow", func(t *testing.T) {
		_, err := h.engine.UpdateWorkflow(h.ctx, otherOrg, adminActor, onboarding.ID, 3, workflow.WorkflowPatch{Name: &name})
		requireKind(t, err, workflow.ErrNotFound)
	})
}

func TestSetActive(t *testing.T) {
	h := newHarness(t)
	locked := h.seeded("employee-offboarding")

	got, err := h.engine.SetActive(h.ctx, testOrg, adminActor, locked.ID, false)
	if err != nil {
		t.Fatalf("SetActive on a locked workflow: %v", err)
	}
	if got.IsActive || got.Version != 2 {
		t.Errorf("got active %v version %d", got.IsActive, got.Version)
	}

	again, err := h.engine.SetActive(h.ctx, testOrg, adminActor, locked.ID, false)
	if err != nil {
		t.Fatalf("repeat SetActive: %v", err)
	}
	if again.Version != 2 {
		t.Errorf("no-op SetActive bumped version to %d", again.Version)
	}

	_, err = h.engine.StartRun(h.ctx, testOrg, locked.ID, userActor, "")
	requireKind(t, err, workflow.ErrWorkflowInactive)

	if _, err := h.engine.SetActive(h.ctx, testOrg, adminActor, locked.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	types := h.eventTypes(emit.HistoryFilter{EntityID: locked.ID})
	want := []string{workflow.EventWorkflowSeeded, workflow.EventWorkflowDeactivated, workflow.EventWorkflowActivated}
	if !equalStrings(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestWorkflowConflictReportsStoredVersion(t *testing.T) {
	h := newHarnessWithStore(t, &racingStore{Store: store.NewMemStore()})
	wf := h.seeded("employee-onboarding")
	name := "Raced"

	ops := map[string]func() error{
		"update": func() error {
			_, err := h.engine.UpdateWorkflow(h.ctx, testOrg, userActor, wf.ID, 1, workflow.WorkflowPatch{Name: &name})
			return err
		},
		"restore": func() error {
			_, err := h.engine.RestoreFromPack(h.ctx, testOrg, adminActor, wf.ID)
			return err
		},
		"deactivate": func() error {
			_, err := h.engine.SetActive(h.ctx, testOrg, adminActor, wf.ID, false)
			return err
		},
	}
	for op, call := range ops {
		t.Run(op, func(t *testing.T) {
			ee := requireKind(t, call(), workflow.ErrConflict)
			if ee.ExpectedVersion != 1 || ee.ActualVersion != 3 || ee.WorkflowID != wf.ID {
				t.Errorf("conflict = expected %d actual %d workflow %q", ee.ExpectedVersion, ee.ActualVersion, ee.WorkflowID)
			}
			got, err := h.engine.GetWorkflow(h.ctx, testOrg, wf.ID)
			if err != nil {
				t.Fatalf("GetWorkflow: %v", err)
			}
			if got.Version != 1 || !got.IsActive || got.Name != wf.Name {
				t.Errorf("workflow changed after a lost swap: %+v", got)
			}
		})
	}
}
