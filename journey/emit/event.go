package emit

// Event represents an observability event emitted during case execution.
//
// Events provide detailed insight into engine behavior:
//   - Case lifecycle (started, pended, resumed, completed)
//   - Step execution start/end per execution path
//   - Ticket pre-emption, fan-out and join activity
//   - Snapshot writes and SLA collaborator failures
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer in memory for inspection
type Event struct {
	// CaseID identifies the case that emitted this event.
	CaseID string

	// PathName identifies the execution path within the case.
	// Empty string for case-level events.
	PathName string

	// NodeID identifies which flow node the event concerns.
	// Empty string for case-level events.
	NodeID string

	// Msg is a short machine-matchable description of the event,
	// e.g. "step_start", "case_pended", "ticket_raised".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Step execution duration in milliseconds
	//   - "response": Step response type
	//   - "work_basket": Basket involved in a pend or resume
	//   - "ticket": Ticket name on pre-emption
	//   - "error": Error details
	Meta map[string]interface{}
}
