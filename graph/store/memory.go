package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// Records are deep-copied on the way in and out, so callers can mutate
// what they get back without touching the stored job. Data is lost when
// the process exits.
type MemStore[S any] struct {
	mu     sync.RWMutex
	closed bool
	jobs   map[string]JobRecord[S]
	steps  map[string][]StepRecord[S] // runID -> steps
	now    func() time.Time
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[novel.State]()
//	ctrl, _ := novel.NewController(deps, st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		jobs:  make(map[string]JobRecord[S]),
		steps: make(map[string][]StepRecord[S]),
		now:   time.Now,
	}
}

// SaveStep persists a workflow execution step.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	records := m.steps[runID]
	for i := range records {
		if records[i].Step == step {
			records[i] = StepRecord[S]{Step: step, NodeID: nodeID, State: state}
			return nil
		}
	}
	m.steps[runID] = append(records, StepRecord[S]{Step: step, NodeID: nodeID, State: state})
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return state, 0, ErrClosed
	}

	records := m.steps[runID]
	if len(records) == 0 {
		return state, 0, ErrNotFound
	}
	latest := records[0]
	for _, record := range records[1:] {
		if record.Step > latest.Step {
			latest = record
		}
	}
	return latest.State, latest.Step, nil
}

// CreateJob inserts a new job record.
func (m *MemStore[S]) CreateJob(_ context.Context, rec JobRecord[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.jobs[rec.ID]; exists {
		return ErrJobExists
	}

	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	stored, err := cloneJob(rec)
	if err != nil {
		return err
	}
	m.jobs[rec.ID] = stored
	return nil
}

// GetJob loads a job record.
func (m *MemStore[S]) GetJob(_ context.Context, id string) (JobRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return JobRecord[S]{}, ErrClosed
	}
	rec, ok := m.jobs[id]
	if !ok {
		return JobRecord[S]{}, ErrNotFound
	}
	return cloneJob(rec)
}

// UpdateJob atomically applies fn to the stored record.
func (m *MemStore[S]) UpdateJob(_ context.Context, id string, fn func(*JobRecord[S]) error) (JobRecord[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return JobRecord[S]{}, ErrClosed
	}
	current, ok := m.jobs[id]
	if !ok {
		return JobRecord[S]{}, ErrNotFound
	}

	working, err := cloneJob(current)
	if err != nil {
		return JobRecord[S]{}, err
	}
	if err := fn(&working); err != nil {
		return JobRecord[S]{}, err
	}
	working.ID = id
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = m.now().UTC()

	stored, err := cloneJob(working)
	if err != nil {
		return JobRecord[S]{}, err
	}
	m.jobs[id] = stored
	return working, nil
}

// ListJobs returns jobs newest first.
func (m *MemStore[S]) ListJobs(_ context.Context, status string, limit int) ([]JobRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]JobRecord[S], 0, len(m.jobs))
	for _, rec := range m.jobs {
		if status != "" && rec.Status != status {
			continue
		}
		c, err := cloneJob(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
