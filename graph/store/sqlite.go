package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps jobs and step history in a single-file database and is the
// default durable backend for a single storygraph process. WAL mode lets
// status polling read while a job is writing.
//
// Schema:
//   - jobs: one row per job, pause fields and the full state snapshot
//   - job_steps: per-invocation step history
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// path is a file path or ":memory:".
//
// Example:
//
//	st, err := store.NewSQLiteStore[novel.State]("./storygraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also makes
	// UpdateJob transactions strictly serial.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore[S]{db: db, path: path}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	jobsTable := `
		CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			pending_decision_type TEXT NOT NULL DEFAULT '',
			pending_decision_options TEXT,
			pending_decision_prompt TEXT NOT NULL DEFAULT '',
			last_decision_payload TEXT,
			schema_version INTEGER NOT NULL,
			full_state_snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, jobsTable); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)"); err != nil {
		return fmt.Errorf("failed to create idx_jobs_status: %w", err)
	}

	stepsTable := `
		CREATE TABLE IF NOT EXISTS job_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create job_steps table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_steps_run_id ON job_steps(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_steps_run_id: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a workflow execution step.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO job_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state
	`
	if _, err := s.db.ExecContext(ctx, query, runID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := s.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `SELECT step, state FROM job_steps WHERE run_id = ? ORDER BY step DESC LIMIT 1`

	var stateJSON string
	err = s.db.QueryRowContext(ctx, query, runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return state, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore[S]) CreateJob(ctx context.Context, rec JobRecord[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	snapshot, err := marshalJob(&rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Status, rec.CurrentStep, rec.ErrorMessage,
		rec.PendingDecisionType, nullableJSON(rec.PendingDecisionOptions), rec.PendingDecisionPrompt,
		nullableJSON(rec.LastDecisionPayload), rec.SchemaVersion, snapshot, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrJobExists
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob loads a job record.
func (s *SQLiteStore[S]) GetJob(ctx context.Context, id string) (JobRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return JobRecord[S]{}, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	rec, err := scanJob[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord[S]{}, ErrNotFound
	}
	if err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to load job: %w", err)
	}
	return rec, nil
}

// UpdateJob atomically applies fn to the stored record inside a transaction.
func (s *SQLiteStore[S]) UpdateJob(ctx context.Context, id string, fn func(*JobRecord[S]) error) (JobRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return JobRecord[S]{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	rec, err := scanJob[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord[S]{}, ErrNotFound
	}
	if err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to load job: %w", err)
	}

	if err := fn(&rec); err != nil {
		return JobRecord[S]{}, err
	}
	rec.ID = id
	rec.UpdatedAt = time.Now().UTC()

	snapshot, err := marshalJob(&rec)
	if err != nil {
		return JobRecord[S]{}, err
	}
	query := `
		UPDATE jobs SET
			status = ?, current_step = ?, error_message = ?,
			pending_decision_type = ?, pending_decision_options = ?, pending_decision_prompt = ?,
			last_decision_payload = ?, schema_version = ?, full_state_snapshot = ?, updated_at = ?
		WHERE job_id = ?
	`
	if _, err := tx.ExecContext(ctx, query,
		rec.Status, rec.CurrentStep, rec.ErrorMessage,
		rec.PendingDecisionType, nullableJSON(rec.PendingDecisionOptions), rec.PendingDecisionPrompt,
		nullableJSON(rec.LastDecisionPayload), rec.SchemaVersion, snapshot, rec.UpdatedAt, id,
	); err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

// ListJobs returns jobs newest first.
func (s *SQLiteStore[S]) ListJobs(ctx context.Context, status string, limit int) ([]JobRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, job_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord[S]
	for rows.Next() {
		rec, err := scanJob[S](rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}
