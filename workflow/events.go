package workflow

import (
	"time"

	"github.com/dshills/opsflow/workflow/emit"
)

// Event types emitted after accepted transitions.
const (
	EventWorkflowSeeded      = "workflow.seeded"
	EventWorkflowReseeded    = "workflow.reseeded"
	EventWorkflowRestored    = "workflow.restored"
	EventWorkflowUpdated     = "workflow.updated"
	EventWorkflowActivated   = "workflow.activated"
	EventWorkflowDeactivated = "workflow.deactivated"

	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunCancelled = "run.cancelled"

	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepRejected  = "step.rejected"
	EventStepSkipped   = "step.skipped"
	EventStepFailed    = "step.failed"
)

// Entity types carried on events.
const (
	EntityWorkflow = "org_workflow"
	EntityRun      = "workflow_run"
	EntityStepRun  = "step_run"
)

var stepEventTypes = map[StepStatus]string{
	StepInProgress: EventStepStarted,
	StepCompleted:  EventStepCompleted,
	StepRejected:   EventStepRejected,
	StepSkipped:    EventStepSkipped,
	StepFailed:     EventStepFailed,
}

var runEventTypes = map[RunStatus]string{
	RunCompleted: EventRunCompleted,
	RunFailed:    EventRunFailed,
	RunCancelled: EventRunCancelled,
}

// eventLog collects the events of one unit of work.
type eventLog struct {
	events []emit.Event
}

func (l *eventLog) add(ev emit.Event) {
	l.events = append(l.events, ev)
}

func (e *Engine) newEvent(eventType, entityType, entityID, orgID, actorID string, at time.Time, meta map[string]interface{}) emit.Event {
	return emit.Event{
		ID:         e.cfg.newID(),
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		OrgID:      orgID,
		ActorID:    actorID,
		Metadata:   meta,
		Timestamp:  at,
	}
}

func (e *Engine) workflowEvent(eventType string, wf OrgWorkflow, actorID string, at time.Time, meta map[string]interface{}) emit.Event {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["version"] = wf.Version
	if wf.SourceTemplateID != "" {
		meta["source_template_id"] = wf.SourceTemplateID
	}
	return e.newEvent(eventType, EntityWorkflow, wf.ID, wf.OrgID, actorID, at, meta)
}

func (e *Engine) stepEvent(step StepRun, from StepStatus, actorID string, at time.Time) emit.Event {
	meta := map[string]interface{}{
		"run_id":     step.RunID,
		"from":       string(from),
		"to":         string(step.Status),
		"version":    step.Version,
		"step_type":  string(step.Spec.Type),
		"sort_order": step.Spec.SortOrder,
	}
	if step.Notes != "" {
		meta["notes"] = step.Notes
	}
	if len(step.OutputLinks) > 0 {
		meta["output_links"] = len(step.OutputLinks)
	}
	return e.newEvent(stepEventTypes[step.Status], EntityStepRun, step.ID, step.OrgID, actorID, at, meta)
}

func (e *Engine) runEvent(eventType string, run WorkflowRun, actorID string, at time.Time, meta map[string]interface{}) emit.Event {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["org_workflow_id"] = run.OrgWorkflowID
	meta["status"] = string(run.Status)
	return e.newEvent(eventType, EntityRun, run.ID, run.OrgID, actorID, at, meta)
}
