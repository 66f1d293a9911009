package emit

// Event represents an observability event emitted during workflow execution.
type Event struct {
	// RunID identifies the invocation that emitted this event.
	// storygraph uses "<job id>/<invocation>" so resumes never collide.
	RunID string

	// Step is the sequential step number within the invocation (1-indexed).
	// Zero for job-level events (paused, completed, failed).
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for job-level events.
	NodeID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": node execution duration in milliseconds
	//   - "label": the edge label chosen by the node's router
	//   - "error": error details
	//   - "decision_type": pending decision type on pause
	Meta map[string]interface{}
}
