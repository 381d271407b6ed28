package emit

// Emitter receives audit events after the engine has committed a transition.
//
// Emitters enable pluggable delivery backends:
//   - Logging: stdout, files
//   - Distributed tracing: OpenTelemetry
//   - Audit trails: message brokers, audit tables owned by the host app
//
// Implementations should be:
//   - Non-blocking: the engine calls Emit after commit, in the caller's goroutine
//   - Thread-safe: transitions on different runs emit concurrently
//   - Resilient: a failing backend must not panic
//
// Emit is called at least once per event. Redelivery happens when the
// process stops between commit and outbox acknowledgement.
type Emitter interface {
	// Emit hands one event to the configured backend.
	//
	// Emit should not panic. Errors should be handled internally.
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter drops nil entries and returns the fan-out emitter.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit forwards the event to each emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
