// Package store persists job records and per-step state for storygraph.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested job or run does not exist.
var ErrNotFound = errors.New("not found")

// ErrJobExists is returned by CreateJob when the job ID is already taken.
var ErrJobExists = errors.New("job already exists")

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// JobRecord is the persisted record of one job.
//
// The pause fields (PendingDecisionType, PendingDecisionOptions,
// PendingDecisionPrompt) and Snapshot are always written together by
// UpdateJob, so a reader never sees a pause without its snapshot.
type JobRecord[S any] struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentStep  string `json:"current_step,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	PendingDecisionType    string          `json:"pending_decision_type,omitempty"`
	PendingDecisionOptions json.RawMessage `json:"pending_decision_options,omitempty"`
	PendingDecisionPrompt  string          `json:"pending_decision_prompt,omitempty"`

	// LastDecisionPayload is set when a decision is accepted and cleared
	// once the resumed run has merged it into the snapshot.
	LastDecisionPayload json.RawMessage `json:"last_decision_payload,omitempty"`

	SchemaVersion int `json:"schema_version"`
	Snapshot      S   `json:"full_state_snapshot"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord is one persisted engine step.
type StepRecord[S any] struct {
	Step   int    `json:"step"`
	NodeID string `json:"node_id"`
	State  S      `json:"state"`
}

// Store provides persistence for jobs and their step history.
//
// Implementations serialize writes per job: UpdateJob is an atomic
// read-modify-write, which makes the store the synchronization point
// between concurrent resume attempts.
//
// Type parameter S is the snapshot type (must be JSON-serializable).
type Store[S any] interface {
	// SaveStep persists the state after a node execution step.
	// A step with the same runID and number is replaced.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the highest-numbered step for a run.
	// Returns ErrNotFound if the run has no steps.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// CreateJob inserts a new job record. Returns ErrJobExists on a
	// duplicate ID.
	CreateJob(ctx context.Context, rec JobRecord[S]) error

	// GetJob loads a job record. Returns ErrNotFound for unknown IDs.
	GetJob(ctx context.Context, id string) (JobRecord[S], error)

	// UpdateJob atomically loads the record, applies fn and writes the
	// result. When fn returns an error nothing is written and that error is
	// returned unchanged.
	UpdateJob(ctx context.Context, id string, fn func(*JobRecord[S]) error) (JobRecord[S], error)

	// ListJobs returns jobs ordered by creation time, newest first.
	// An empty status matches every job; limit <= 0 means no limit.
	ListJobs(ctx context.Context, status string, limit int) ([]JobRecord[S], error)

	// Close releases resources. Safe to call more than once.
	Close() error
}

// marshalJob serializes the JSON columns of a record.
func marshalJob[S any](rec *JobRecord[S]) (snapshot []byte, err error) {
	snapshot, err = json.Marshal(rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return snapshot, nil
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const jobColumns = `job_id, status, current_step, error_message,
	pending_decision_type, pending_decision_options, pending_decision_prompt,
	last_decision_payload, schema_version, full_state_snapshot, created_at, updated_at`

// scanJob reads one row selected with jobColumns.
func scanJob[S any](row rowScanner) (JobRecord[S], error) {
	var (
		rec              JobRecord[S]
		options, payload []byte
		snapshot         []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.Status, &rec.CurrentStep, &rec.ErrorMessage,
		&rec.PendingDecisionType, &options, &rec.PendingDecisionPrompt,
		&payload, &rec.SchemaVersion, &snapshot, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return rec, err
	}
	if len(options) > 0 {
		rec.PendingDecisionOptions = json.RawMessage(options)
	}
	if len(payload) > 0 {
		rec.LastDecisionPayload = json.RawMessage(payload)
	}
	if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
		return rec, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return rec, nil
}

// cloneJob deep-copies a record so in-memory callers never share slices
// or maps with the stored value.
func cloneJob[S any](rec JobRecord[S]) (JobRecord[S], error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to marshal job: %w", err)
	}
	var out JobRecord[S]
	if err := json.Unmarshal(data, &out); err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return out, nil
}
