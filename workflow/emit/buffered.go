package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are grouped by organization and kept in emission order, which makes
// the emitter useful for tests, development and small dashboards.
//
// Warning: every event is retained until Clear is called.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := workflow.New(st, catalog, emitter)
//
//	// ... drive runs ...
//
//	all := emitter.GetHistory("acme")
//	rejected := emitter.GetHistoryWithFilter("acme", emit.HistoryFilter{EventType: "step.rejected"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // orgID -> events
}

// HistoryFilter specifies criteria for filtering buffered history.
//
// All fields are optional and combined with AND logic.
type HistoryFilter struct {
	EventType  string // e.g. "run.failed" (empty = no filter)
	EntityType string // e.g. "step_run" (empty = no filter)
	EntityID   string // exact entity (empty = no filter)
	RunID      string // run and step events of one run (empty = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.OrgID] = append(b.events[event.OrgID], event)
}

// GetHistory returns a copy of all events for an organization in emission
// order. Returns an empty slice when nothing was recorded.
func (b *BufferedEmitter) GetHistory(orgID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[orgID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter returns the events of an organization matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(orgID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[orgID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// EventTypes returns the event types recorded for orgID, in order.
func (b *BufferedEmitter) EventTypes(orgID string, filter HistoryFilter) []string {
	events := b.GetHistoryWithFilter(orgID, filter)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	if filter.EntityType != "" && event.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && event.EntityID != filter.EntityID {
		return false
	}
	if filter.RunID != "" && event.RunID() != filter.RunID {
		return false
	}
	return true
}

// Clear removes stored events for orgID, or all events when orgID is empty.
func (b *BufferedEmitter) Clear(orgID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if orgID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, orgID)
}
