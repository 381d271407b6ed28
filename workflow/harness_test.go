package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/emit"
	"github.com/dshills/opsflow/workflow/pack"
	"github.com/dshills/opsflow/workflow/store"
	"github.com/google/uuid"
)

const (
	testOrg    = "org-1"
	otherOrg   = "org-2"
	adminActor = "admin-1"
	userActor  = "user-1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *workflow.Engine
	store  workflow.Store
	events *emit.BufferedEmitter
	clock  *fakeClock
}

func newHarness(t *testing.T, opts ...workflow.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemStore(), opts...)
}

func newHarnessWithStore(t *testing.T, st workflow.Store, opts ...workflow.Option) *harness {
	t.Helper()
	catalog, err := pack.DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	clock := newFakeClock()
	events := emit.NewBufferedEmitter()
	all := append([]workflow.Option{
		workflow.WithAuthorizer(workflow.NewStaticAdmins(adminActor)),
		workflow.WithClock(clock.Now),
	}, opts...)
	engine, err := workflow.New(st, catalog, events, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &harness{
		t:      t,
		ctx:    context.Background(),
		engine: engine,
		store:  st,
		events: events,
		clock:  clock,
	}
}

// customWorkflow stores an active workflow with one step per type, not
// linked to any pack.
func (h *harness) customWorkflow(wfType workflow.WorkflowType, types ...workflow.StepType) workflow.OrgWorkflow {
	h.t.Helper()
	steps := make([]workflow.StepSpec, len(types))
	for i, st := range types {
		steps[i] = workflow.StepSpec{Type: st, Title: fmt.Sprintf("%s step", st), SortOrder: i + 1}
	}
	wf := workflow.OrgWorkflow{
		ID:           uuid.NewString(),
		OrgID:        testOrg,
		WorkflowType: wfType,
		Name:         fmt.Sprintf("Custom %s", wfType),
		IsActive:     true,
		EditableFields: []workflow.FieldName{
			workflow.FieldWorkflowName, workflow.FieldDescription, workflow.FieldSteps, workflow.FieldWorkflowType,
		},
		Steps:     steps,
		Version:   1,
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	err := h.store.Update(h.ctx, func(tx workflow.Tx) error {
		_, err := tx.InsertWorkflow(h.ctx, wf)
		return err
	})
	if err != nil {
		h.t.Fatalf("insert custom workflow: %v", err)
	}
	return wf
}

// seeded seeds the generic pack and returns the workflow cloned from
// templateKey.
func (h *harness) seeded(templateKey string) workflow.OrgWorkflow {
	h.t.Helper()
	if _, err := h.engine.Seed(h.ctx, testOrg, adminActor, pack.GenericPackKey); err != nil {
		h.t.Fatalf("Seed: %v", err)
	}
	wfs, err := h.engine.ListWorkflows(h.ctx, testOrg)
	if err != nil {
		h.t.Fatalf("ListWorkflows: %v", err)
	}
	for _, wf := range wfs {
		if strings.HasSuffix(wf.SourceTemplateID, "/"+templateKey) {
			return wf
		}
	}
	h.t.Fatalf("no workflow seeded from %s", templateKey)
	return workflow.OrgWorkflow{}
}

func (h *harness) startRun(workflowID string) workflow.RunView {
	h.t.Helper()
	view, err := h.engine.StartRun(h.ctx, testOrg, workflowID, userActor, "employee:42")
	if err != nil {
		h.t.Fatalf("StartRun: %v", err)
	}
	return view
}

func (h *harness) step(id string) workflow.StepRun {
	h.t.Helper()
	s, err := h.store.GetStepRun(h.ctx, id)
	if err != nil {
		h.t.Fatalf("GetStepRun(%s): %v", id, err)
	}
	return s
}

func (h *harness) run(id string) workflow.WorkflowRun {
	h.t.Helper()
	r, err := h.store.GetRun(h.ctx, id)
	if err != nil {
		h.t.Fatalf("GetRun(%s): %v", id, err)
	}
	return r
}

func (h *harness) mustStart(stepID string) workflow.StepRun {
	h.t.Helper()
	s, err := h.engine.StartStep(h.ctx, userActor, stepID, h.step(stepID).Version, true)
	if err != nil {
		h.t.Fatalf("StartStep(%s): %v", stepID, err)
	}
	return s
}

func (h *harness) mustComplete(stepID string) workflow.StepRun {
	h.t.Helper()
	s, err := h.engine.CompleteStep(h.ctx, userActor, stepID, h.step(stepID).Version, nil, "")
	if err != nil {
		h.t.Fatalf("CompleteStep(%s): %v", stepID, err)
	}
	return s
}

// startAndComplete drives one step from pending to completed.
func (h *harness) startAndComplete(stepID string) workflow.StepRun {
	h.t.Helper()
	h.mustStart(stepID)
	return h.mustComplete(stepID)
}

func (h *harness) eventTypes(filter emit.HistoryFilter) []string {
	return h.events.EventTypes(testOrg, filter)
}

// requireKind asserts err wraps kind and returns its detail.
func requireKind(t *testing.T, err, kind error) *workflow.EngineError {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
	var ee *workflow.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error %T is not *EngineError", err)
	}
	return ee
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// failingStore injects a failure into one Tx method.
type failingStore struct {
	workflow.Store
	failOn   string
	failMark bool
	mu       sync.Mutex
}

var errInjected = errors.New("injected failure")

func (s *failingStore) Update(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return s.Store.Update(ctx, func(tx workflow.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn})
	})
}

func (s *failingStore) MarkEventsEmitted(ctx context.Context, ids []string) error {
	s.mu.Lock()
	fail := s.failMark
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.MarkEventsEmitted(ctx, ids)
}

func (s *failingStore) setFailMark(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMark = v
}

type failingTx struct {
	workflow.Tx
	failOn string
}

func (tx *failingTx) InsertStepRuns(ctx context.Context, steps []workflow.StepRun) error {
	if tx.failOn == "InsertStepRuns" {
		return errInjected
	}
	return tx.Tx.InsertStepRuns(ctx, steps)
}

func (tx *failingTx) UpdateRun(ctx context.Context, run workflow.WorkflowRun) error {
	if tx.failOn == "UpdateRun" {
		return errInjected
	}
	return tx.Tx.UpdateRun(ctx, run)
}

// racingStore lets a competing writer bump the row by two versions just
// before each compare-and-swap, inside the same unit of work.
type racingStore struct {
	workflow.Store
}

func (s *racingStore) Update(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return s.Store.Update(ctx, func(tx workflow.Tx) error {
		return fn(&racingTx{Tx: tx})
	})
}

type racingTx struct {
	workflow.Tx
}

func (tx *racingTx) UpdateWorkflow(ctx context.Context, wf workflow.OrgWorkflow, expectedVersion int) error {
	cur, err := tx.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}
	cur.Version += 2
	if err := tx.Tx.UpdateWorkflow(ctx, cur, cur.Version-2); err != nil {
		return err
	}
	return tx.Tx.UpdateWorkflow(ctx, wf, expectedVersion)
}

func (tx *racingTx) UpdateStepRun(ctx context.Context, step workflow.StepRun, expectedVersion int) error {
	cur, err := tx.GetStepRun(ctx, step.ID)
	if err != nil {
		return err
	}
	cur.Version += 2
	if err := tx.Tx.UpdateStepRun(ctx, cur, cur.Version-2); err != nil {
		return err
	}
	return tx.Tx.UpdateStepRun(ctx, step, expectedVersion)
}
