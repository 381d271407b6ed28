package emit

import "time"

// Event is the audit record produced for every accepted engine transition.
//
// Events describe what changed, not how:
//   - Template seed, reseed, restore, update and activation toggles
//   - Run start, completion, failure and cancellation
//   - Step start, completion, rejection, skip and failure
//
// Delivery is at-least-once. Consumers must be idempotent on
// (EntityID, EventType, Timestamp); ID is stable across redelivery and can be
// used as an alternative dedup key.
type Event struct {
	// ID uniquely identifies this event record (outbox key).
	ID string `json:"id"`

	// EventType names the transition, e.g. "step.completed".
	EventType string `json:"eventType"`

	// EntityType is one of "org_workflow", "workflow_run", "step_run".
	EntityType string `json:"entityType"`

	// EntityID identifies the mutated entity.
	EntityID string `json:"entityId"`

	// OrgID scopes the event to an organization.
	OrgID string `json:"orgId"`

	// ActorID is who triggered the transition. Empty for system actions.
	ActorID string `json:"actorId"`

	// Metadata carries transition details.
	// Common keys:
	//   - "run_id": owning run for step events
	//   - "from", "to": status before and after
	//   - "version": entity version after the transition
	//   - "notes", "reason": free text supplied by the caller
	//   - "cause": "rejected" or "failed" on run.failed
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp is when the transition was accepted.
	Timestamp time.Time `json:"timestamp"`
}

// RunID returns the owning run id for run and step events, or "".
func (e Event) RunID() string {
	if e.EntityType == "workflow_run" {
		return e.EntityID
	}
	if id, ok := e.Metadata["run_id"].(string); ok {
		return id
	}
	return ""
}
