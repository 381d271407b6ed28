package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/emit"
)

// MemStore is an in-memory implementation of workflow.Store.
//
// Designed for:
//   - Testing and development
//   - Single-process demos
//
// Update holds the store's write lock for the whole unit of work, so units
// are fully serialised. Writes made by a failing unit are undone before the
// lock is released.
//
// Data is lost when the process terminates.
type MemStore struct {
	mu     sync.RWMutex
	closed bool

	workflows map[string]workflow.OrgWorkflow
	runs      map[string]workflow.WorkflowRun
	steps     map[string]workflow.StepRun
	runSteps  map[string][]string // runID -> step ids
	templates map[string]string   // orgID + "\x00" + sourceTemplateID -> workflow id

	outbox  []outboxEntry
	eventAt map[string]int // event id -> index in outbox
}

type outboxEntry struct {
	event   emit.Event
	emitted bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows: make(map[string]workflow.OrgWorkflow),
		runs:      make(map[string]workflow.WorkflowRun),
		steps:     make(map[string]workflow.StepRun),
		runSteps:  make(map[string][]string),
		templates: make(map[string]string),
		eventAt:   make(map[string]int),
	}
}

func templateKey(orgID, sourceTemplateID string) string {
	return orgID + "\x00" + sourceTemplateID
}

func (m *MemStore) rlock() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (m *MemStore) GetWorkflow(_ context.Context, id string) (workflow.OrgWorkflow, error) {
	if err := m.rlock(); err != nil {
		return workflow.OrgWorkflow{}, err
	}
	defer m.mu.RUnlock()
	return m.getWorkflow(id)
}

func (m *MemStore) ListWorkflows(_ context.Context, orgID string) ([]workflow.OrgWorkflow, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.listWorkflows(orgID), nil
}

func (m *MemStore) GetRun(_ context.Context, id string) (workflow.WorkflowRun, error) {
	if err := m.rlock(); err != nil {
		return workflow.WorkflowRun{}, err
	}
	defer m.mu.RUnlock()
	return m.getRun(id)
}

func (m *MemStore) ListRuns(_ context.Context, filter workflow.RunFilter) ([]workflow.WorkflowRun, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.listRuns(filter), nil
}

func (m *MemStore) GetStepRun(_ context.Context, id string) (workflow.StepRun, error) {
	if err := m.rlock(); err != nil {
		return workflow.StepRun{}, err
	}
	defer m.mu.RUnlock()
	return m.getStepRun(id)
}

func (m *MemStore) ListStepRuns(_ context.Context, runID string) ([]workflow.StepRun, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	return m.listStepRuns(runID), nil
}

// Update runs fn as one atomic unit.
func (m *MemStore) Update(ctx context.Context, fn func(tx workflow.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// PendingEvents returns events not yet marked emitted, oldest first.
func (m *MemStore) PendingEvents(_ context.Context, limit int) ([]emit.Event, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}

	var events []emit.Event
	for _, entry := range m.outbox {
		if entry.emitted {
			continue
		}
		events = append(events, entry.event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// MarkEventsEmitted acknowledges events. Unknown ids are ignored.
func (m *MemStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, id := range eventIDs {
		if i, ok := m.eventAt[id]; ok {
			m.outbox[i].emitted = true
		}
	}
	return nil
}

// Close releases the store. Subsequent calls return ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemStore) getWorkflow(id string) (workflow.OrgWorkflow, error) {
	wf, ok := m.workflows[id]
	if !ok {
		return workflow.OrgWorkflow{}, workflow.ErrNotFound
	}
	return wf.Clone(), nil
}

func (m *MemStore) listWorkflows(orgID string) []workflow.OrgWorkflow {
	var out []workflow.OrgWorkflow
	for _, wf := range m.workflows {
		if wf.OrgID == orgID {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemStore) getRun(id string) (workflow.WorkflowRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return workflow.WorkflowRun{}, workflow.ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *MemStore) listRuns(filter workflow.RunFilter) []workflow.WorkflowRun {
	var out []workflow.WorkflowRun
	for _, run := range m.runs {
		if filter.OrgID != "" && run.OrgID != filter.OrgID {
			continue
		}
		if filter.WorkflowID != "" && run.OrgWorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (m *MemStore) getStepRun(id string) (workflow.StepRun, error) {
	step, ok := m.steps[id]
	if !ok {
		return workflow.StepRun{}, workflow.ErrNotFound
	}
	return step.Clone(), nil
}

func (m *MemStore) listStepRuns(runID string) []workflow.StepRun {
	ids := m.runSteps[runID]
	out := make([]workflow.StepRun, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.steps[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.SortOrder < out[j].Spec.SortOrder })
	return out
}

// memTx writes straight into the store while the write lock is held and
// records how to undo each write.
type memTx struct {
	m    *MemStore
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) GetWorkflow(_ context.Context, id string) (workflow.OrgWorkflow, error) {
	return tx.m.getWorkflow(id)
}

func (tx *memTx) ListWorkflows(_ context.Context, orgID string) ([]workflow.OrgWorkflow, error) {
	return tx.m.listWorkflows(orgID), nil
}

func (tx *memTx) GetRun(_ context.Context, id string) (workflow.WorkflowRun, error) {
	return tx.m.getRun(id)
}

func (tx *memTx) ListRuns(_ context.Context, filter workflow.RunFilter) ([]workflow.WorkflowRun, error) {
	return tx.m.listRuns(filter), nil
}

func (tx *memTx) GetStepRun(_ context.Context, id string) (workflow.StepRun, error) {
	return tx.m.getStepRun(id)
}

func (tx *memTx) ListStepRuns(_ context.Context, runID string) ([]workflow.StepRun, error) {
	return tx.m.listStepRuns(runID), nil
}

// LockRun reads a run. The unit of work already holds the store lock.
func (tx *memTx) LockRun(_ context.Context, id string) (workflow.WorkflowRun, error) {
	return tx.m.getRun(id)
}

func (tx *memTx) InsertWorkflow(_ context.Context, wf workflow.OrgWorkflow) (bool, error) {
	m := tx.m
	if _, exists := m.workflows[wf.ID]; exists {
		return false, fmt.Errorf("workflow %s already exists", wf.ID)
	}
	if wf.SourceTemplateID != "" {
		key := templateKey(wf.OrgID, wf.SourceTemplateID)
		if _, exists := m.templates[key]; exists {
			return false, nil
		}
		m.templates[key] = wf.ID
		tx.undo = append(tx.undo, func() { delete(m.templates, key) })
	}
	m.workflows[wf.ID] = wf.Clone()
	tx.undo = append(tx.undo, func() { delete(m.workflows, wf.ID) })
	return true, nil
}

func (tx *memTx) UpdateWorkflow(_ context.Context, wf workflow.OrgWorkflow, expectedVersion int) error {
	m := tx.m
	prev, ok := m.workflows[wf.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	if prev.Version != expectedVersion {
		return &workflow.VersionMismatchError{ID: wf.ID, Actual: prev.Version}
	}
	m.workflows[wf.ID] = wf.Clone()
	tx.undo = append(tx.undo, func() { m.workflows[wf.ID] = prev })
	return nil
}

func (tx *memTx) InsertRun(_ context.Context, run workflow.WorkflowRun) error {
	m := tx.m
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	tx.undo = append(tx.undo, func() { delete(m.runs, run.ID) })
	return nil
}

func (tx *memTx) InsertStepRuns(_ context.Context, steps []workflow.StepRun) error {
	m := tx.m
	for _, step := range steps {
		step := step
		if _, exists := m.steps[step.ID]; exists {
			return fmt.Errorf("step run %s already exists", step.ID)
		}
		for _, id := range m.runSteps[step.RunID] {
			if m.steps[id].Spec.SortOrder == step.Spec.SortOrder {
				return fmt.Errorf("run %s already has a step with sort order %d", step.RunID, step.Spec.SortOrder)
			}
		}
		prevIDs := m.runSteps[step.RunID]
		m.steps[step.ID] = step.Clone()
		m.runSteps[step.RunID] = append(append([]string(nil), prevIDs...), step.ID)
		tx.undo = append(tx.undo, func() {
			delete(m.steps, step.ID)
			if prevIDs == nil {
				delete(m.runSteps, step.RunID)
			} else {
				m.runSteps[step.RunID] = prevIDs
			}
		})
	}
	return nil
}

func (tx *memTx) UpdateRun(_ context.Context, run workflow.WorkflowRun) error {
	m := tx.m
	prev, ok := m.runs[run.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	m.runs[run.ID] = cloneRun(run)
	tx.undo = append(tx.undo, func() { m.runs[run.ID] = prev })
	return nil
}

func (tx *memTx) UpdateStepRun(_ context.Context, step workflow.StepRun, expectedVersion int) error {
	m := tx.m
	prev, ok := m.steps[step.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	if prev.Version != expectedVersion {
		return &workflow.VersionMismatchError{ID: step.ID, Actual: prev.Version}
	}
	m.steps[step.ID] = step.Clone()
	tx.undo = append(tx.undo, func() { m.steps[step.ID] = prev })
	return nil
}

func (tx *memTx) AppendEvents(_ context.Context, events ...emit.Event) error {
	m := tx.m
	for _, ev := range events {
		if _, exists := m.eventAt[ev.ID]; exists {
			return fmt.Errorf("event %s already in outbox", ev.ID)
		}
		m.eventAt[ev.ID] = len(m.outbox)
		m.outbox = append(m.outbox, outboxEntry{event: ev})
		id := ev.ID
		tx.undo = append(tx.undo, func() {
			delete(m.eventAt, id)
			m.outbox = m.outbox[:len(m.outbox)-1]
		})
	}
	return nil
}

var (
	_ workflow.Store = (*MemStore)(nil)
	_ workflow.Tx    = (*memTx)(nil)
)
