package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/opsflow/workflow/emit"
	"go.uber.org/zap"
)

// Engine is the workflow template and run execution engine.
//
// It is safe for concurrent use. All state lives in the Store; the engine
// itself holds only configuration. Every operation is scoped by an explicit
// organization or entity id, never by ambient state.
//
// Each accepted transition is committed together with its audit events in
// one atomic unit, then the events are handed to the Emitter and
// acknowledged in the outbox. A slow or failing emitter never rolls back a
// committed transition.
type Engine struct {
	store   Store
	catalog Catalog
	emitter emit.Emitter
	cfg     engineConfig
}

// New creates an Engine.
//
// catalog may be nil when the host never seeds or restores templates.
// A nil emitter discards events (they remain readable from the outbox).
func New(store Store, catalog Catalog, emitter emit.Emitter, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, &EngineError{Message: "store cannot be nil", Code: "INVALID_ARGUMENT", Err: ErrInvalidArgument}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		emitter: emitter,
		cfg:     cfg,
	}, nil
}

// PolicyFor returns the run policy new runs of workflowType receive.
func (e *Engine) PolicyFor(workflowType WorkflowType) RunPolicy {
	if p, ok := e.cfg.policies[workflowType]; ok {
		return p
	}
	return e.cfg.defaultPolicy
}

// update runs fn in one store transaction, appends the collected events to
// the outbox in the same transaction and dispatches them after commit.
func (e *Engine) update(ctx context.Context, fn func(tx Tx, log *eventLog) error) error {
	log := &eventLog{}
	err := e.store.Update(ctx, func(tx Tx) error {
		log.events = log.events[:0]
		if err := fn(tx, log); err != nil {
			return err
		}
		if len(log.events) == 0 {
			return nil
		}
		return tx.AppendEvents(ctx, log.events...)
	})
	if err != nil {
		return err
	}
	e.dispatch(ctx, log.events)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, events []emit.Event) {
	if len(events) == 0 {
		return
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		e.emitter.Emit(ev)
		ids = append(ids, ev.ID)
	}
	if err := e.store.MarkEventsEmitted(ctx, ids); err != nil {
		// Events stay pending and will be redelivered by FlushOutbox.
		e.cfg.logger.Warn("mark events emitted",
			zap.Int("events", len(ids)),
			zap.Error(err))
	}
}

// FlushOutbox redelivers up to limit events that were committed but never
// acknowledged, oldest first. It returns how many were delivered.
//
// Run it at startup and periodically from the host process; delivery is
// at-least-once.
func (e *Engine) FlushOutbox(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := e.store.PendingEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("read pending events: %w", err)
	}
	e.cfg.metrics.UpdateOutboxPending(len(events))
	if len(events) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		e.emitter.Emit(ev)
		ids = append(ids, ev.ID)
	}
	if err := e.store.MarkEventsEmitted(ctx, ids); err != nil {
		return len(events), fmt.Errorf("mark events emitted: %w", err)
	}
	e.cfg.logger.Info("outbox flushed", zap.Int("events", len(events)))
	return len(events), nil
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "ERROR"
		var ee *EngineError
		if errors.As(err, &ee) && ee.Code != "" {
			outcome = ee.Code
		}
	}
	e.cfg.metrics.RecordOperation(operation, outcome, time.Since(start))
	if err != nil && !errors.As(err, new(*EngineError)) {
		e.cfg.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func notFound(entity, id string) *EngineError {
	return newError(ErrNotFound, "%s %s not found", entity, id)
}

// lookupErr maps a store ErrNotFound onto an engine error.
func lookupErr(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func requireArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return newError(ErrInvalidArgument, "%s is required", name)
	}
	return nil
}

// GetWorkflow returns a workflow of orgID.
func (e *Engine) GetWorkflow(ctx context.Context, orgID, workflowID string) (OrgWorkflow, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return OrgWorkflow{}, lookupErr(err, EntityWorkflow, workflowID)
	}
	if wf.OrgID != orgID {
		return OrgWorkflow{}, notFound(EntityWorkflow, workflowID)
	}
	return wf, nil
}

// ListWorkflows returns the workflows of orgID ordered by name.
func (e *Engine) ListWorkflows(ctx context.Context, orgID string) ([]OrgWorkflow, error) {
	if err := requireArg("org id", orgID); err != nil {
		return nil, err
	}
	wfs, err := e.store.ListWorkflows(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return wfs, nil
}

// GetRun returns a run with its steps in sortOrder.
func (e *Engine) GetRun(ctx context.Context, runID string) (RunView, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return RunView{}, lookupErr(err, EntityRun, runID)
	}
	steps, err := e.store.ListStepRuns(ctx, runID)
	if err != nil {
		return RunView{}, fmt.Errorf("list step runs: %w", err)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Spec.SortOrder < steps[j].Spec.SortOrder })
	return RunView{Run: run, Steps: steps}, nil
}

// ListRuns returns runs matching filter, newest first. OrgID is required.
func (e *Engine) ListRuns(ctx context.Context, filter RunFilter) ([]WorkflowRun, error) {
	if err := requireArg("org id", filter.OrgID); err != nil {
		return nil, err
	}
	runs, err := e.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
