package novel

import (
	"context"
	"time"

	"github.com/dshills/storygraph/graph/store"
)

// JobSummary is the externally visible status of a job.
type JobSummary struct {
	ID                  string    `json:"job_id"`
	Status              string    `json:"status"`
	CurrentStep         string    `json:"current_step,omitempty"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	StopReason          string    `json:"stop_reason,omitempty"`
	PendingDecisionType string    `json:"pending_decision_type,omitempty"`
	CurrentChapter      int       `json:"current_chapter_number"`
	TotalChapters       int       `json:"total_chapters"`
	WrittenChapters     int       `json:"written_chapters"`
	Theme               string    `json:"theme"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	// AwaitingRunner is set when the job was accepted for running but no
	// run has claimed it yet.
	AwaitingRunner bool `json:"awaiting_runner,omitempty"`
}

func summarize(r store.JobRecord[State]) JobSummary {
	return JobSummary{
		ID:                  r.ID,
		Status:              r.Status,
		CurrentStep:         r.CurrentStep,
		ErrorMessage:        r.ErrorMessage,
		StopReason:          r.Snapshot.Status.Reason,
		PendingDecisionType: r.PendingDecisionType,
		CurrentChapter:      r.Snapshot.CurrentChapter,
		TotalChapters:       r.Snapshot.TotalChapters,
		WrittenChapters:     len(r.Snapshot.WrittenChapters),
		Theme:               r.Snapshot.Config.Theme,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		AwaitingRunner:      awaitingRunner(r.Snapshot),
	}
}

func awaitingRunner(s State) bool {
	switch s.Status.Kind {
	case StatusPending:
		return true
	case StatusRunning:
		return s.ResumeNode != ""
	}
	return false
}

// Status returns the summary of a job.
func (c *Controller) Status(ctx context.Context, id string) (JobSummary, error) {
	rec, err := c.store.GetJob(ctx, id)
	if err != nil {
		return JobSummary{}, err
	}
	return summarize(rec), nil
}

// List returns job summaries, newest first. An empty status matches all.
func (c *Controller) List(ctx context.Context, status string, limit int) ([]JobSummary, error) {
	recs, err := c.store.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, summarize(r))
	}
	return out, nil
}

// Unclaimed returns the jobs that are waiting for a runner: pending jobs
// never started and accepted decisions never continued. A process that
// stopped between accepting work and running it leaves these behind.
func (c *Controller) Unclaimed(ctx context.Context) ([]JobSummary, error) {
	all, err := c.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	var out []JobSummary
	for _, j := range all {
		if j.AwaitingRunner {
			out = append(out, j)
		}
	}
	return out, nil
}

// NextDecision returns what a paused job is waiting for, or nil.
func (c *Controller) NextDecision(ctx context.Context, id string) (*PendingDecision, error) {
	rec, err := c.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Snapshot.Status.Kind != StatusPaused {
		return nil, nil
	}
	return rec.Snapshot.PendingDecision, nil
}

// Job returns the full state of a job.
func (c *Controller) Job(ctx context.Context, id string) (State, error) {
	rec, err := c.store.GetJob(ctx, id)
	if err != nil {
		return State{}, err
	}
	return rec.Snapshot, nil
}

// Chapters returns the written chapters of a job in order.
func (c *Controller) Chapters(ctx context.Context, id string) ([]Chapter, error) {
	s, err := c.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.WrittenChapters, nil
}

// Export returns the job's snapshot envelope.
func (c *Controller) Export(ctx context.Context, id string) ([]byte, error) {
	s, err := c.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	return EncodeSnapshot(s, c.now())
}
