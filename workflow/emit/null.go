package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when the host application reads the audit trail from the store
// outbox directly, or in tests that do not inspect events.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
