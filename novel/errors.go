package novel

import "errors"

var (
	// ErrPrecondition is returned when a job is not in the state an
	// operation requires: resuming a job that is not paused, paused for a
	// different decision, or already finished or cancelled. Nothing is
	// modified when it is returned.
	ErrPrecondition = errors.New("precondition failed")

	// ErrSchemaVersion is returned when a persisted snapshot was written by
	// a different State schema version.
	ErrSchemaVersion = errors.New("snapshot schema version mismatch")

	// ErrInvalidDecision is returned when a decision payload does not fit
	// the pending decision, for example an unknown option ID.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrInvalidConfig is returned by JobConfig.Validate.
	ErrInvalidConfig = errors.New("invalid job config")
)
