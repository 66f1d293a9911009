package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError represents a fault in graph construction or execution, as
// opposed to a failure inside a node.
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code (NODE_NOT_FOUND, NO_ROUTE, ...).
	Code string

	// Cause is the wrapped error, if any.
	Cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrMaxStepsExceeded) match step-limit failures.
func (e *EngineError) Is(target error) bool {
	return target == ErrMaxStepsExceeded && e.Code == "MAX_STEPS_EXCEEDED"
}
