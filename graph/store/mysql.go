package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Use it when several storygraph servers share one job table. UpdateJob
// takes a row lock (SELECT ... FOR UPDATE) so concurrent resumes of the
// same job serialize in the database.
//
// Schema:
//   - jobs: one row per job, pause fields and the full state snapshot
//   - job_steps: per-invocation step history
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(localhost:3306)/storygraph
//
// parseTime is forced on because job timestamps are scanned into
// time.Time.
//
// Security Warning: never hardcode credentials; read the DSN from
// configuration or the environment (STORYGRAPH_STORE_DSN).
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore[S]{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	jobsTable := `
		CREATE TABLE IF NOT EXISTS jobs (
			job_id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(128) NOT NULL,
			current_step VARCHAR(128) NOT NULL DEFAULT '',
			error_message TEXT NOT NULL,
			pending_decision_type VARCHAR(64) NOT NULL DEFAULT '',
			pending_decision_options JSON NULL,
			pending_decision_prompt TEXT NOT NULL,
			last_decision_payload JSON NULL,
			schema_version INT NOT NULL,
			full_state_snapshot LONGTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_status (status),
			INDEX idx_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, jobsTable); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	stepsTable := `
		CREATE TABLE IF NOT EXISTS job_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state LONGTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_run_id (run_id),
			UNIQUE KEY unique_run_step (run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create job_steps table: %w", err)
	}
	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a workflow execution step.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO job_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, runID, step, nodeID, stateJSON); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := m.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `SELECT step, state FROM job_steps WHERE run_id = ? ORDER BY step DESC LIMIT 1`

	var stateJSON []byte
	err = m.db.QueryRowContext(ctx, query, runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return state, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// CreateJob inserts a new job record.
func (m *MySQLStore[S]) CreateJob(ctx context.Context, rec JobRecord[S]) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	snapshot, err := marshalJob(&rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = m.db.ExecContext(ctx, query,
		rec.ID, rec.Status, rec.CurrentStep, rec.ErrorMessage,
		rec.PendingDecisionType, nullableJSON(rec.PendingDecisionOptions), rec.PendingDecisionPrompt,
		nullableJSON(rec.LastDecisionPayload), rec.SchemaVersion, snapshot, now, now,
	)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob loads a job record.
func (m *MySQLStore[S]) GetJob(ctx context.Context, id string) (JobRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return JobRecord[S]{}, err
	}

	row := m.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	rec, err := scanJob[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord[S]{}, ErrNotFound
	}
	if err != nil {
		return JobRecord[S]{}, fmt.Errorf("failed to load job: %w", err)
	}
	return rec, nil
}

// UpdateJob atomically applies fn to the stored record under a row lock.
func (m *MySQLStore[S]) UpdateJob(ctx context.Context, id string, fn func(*JobRecord[S]) error) (JobRecord[S], error) {
	var updated JobRecord[S]
	err := m.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ? FOR UPDATE`, id)
		rec, err := scanJob[S](row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		if err := fn(&rec); err != nil {
			return err
		}
		rec.ID = id
		rec.UpdatedAt = time.Now().UTC()

		snapshot, err := marshalJob(&rec)
		if err != nil {
			return err
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
			return fmt.Errorf("failed to update job: %w", err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return JobRecord[S]{}, err
	}
	return updated, nil
}

// ListJobs returns jobs newest first.
func (m *MySQLStore[S]) ListJobs(ctx context.Context, status string, limit int) ([]JobRecord[S], error) {
	if err := m.checkOpen(); err != nil {
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

	rows, err := m.db.QueryContext(ctx, query, args...)
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

// Close closes the connection pool. Safe to call more than once.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (m *MySQLStore[S]) Stats() sql.DBStats {
	return m.db.Stats()
}

// WithTransaction runs fn inside a READ COMMITTED transaction, rolling back
// when fn returns an error.
func (m *MySQLStore[S]) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
