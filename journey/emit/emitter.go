package emit

// Emitter receives and processes observability events from case
// execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down case execution
//   - Thread-safe: May be called concurrently from sibling paths
//   - Resilient: Handle failures gracefully (never crash the engine)
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block case execution. If the backend
	// is unavailable or slow, events should be buffered, dropped with
	// internal logging, or sent asynchronously.
	//
	// Emit should not panic. Errors should be logged internally.
	Emit(event Event)
}
