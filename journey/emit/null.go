package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use cases:
//   - Production deployments where observability overhead is unwanted
//   - Testing scenarios where event capture is not needed
//   - Disabling event emission without changing code
//
// Example usage:
//
//	engine, err := journey.New(factory, repo,
//	    journey.WithEmitter(emit.NewNullEmitter()),
//	)
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. It is safe for concurrent use
// and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
}
