package novel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/graph/emit"
	"github.com/dshills/storygraph/graph/store"
	"github.com/dshills/storygraph/knowledge"
)

// DefaultMaxSteps bounds the nodes executed by one invocation.
const DefaultMaxSteps = 5000

// Prompter answers a pending decision inline for embedded interaction.
type Prompter interface {
	Prompt(ctx context.Context, d PendingDecision) (DecisionPayload, error)
}

// Controller runs jobs and implements the pause/resume protocol on top of
// a store.Store.
//
// The store is the only synchronization point: every state transition of
// a job is an UpdateJob call, so concurrent resumes of the same job cannot
// both succeed.
type Controller struct {
	store    store.Store[State]
	engine   *graph.Engine[State]
	pipeline *pipeline
	logger   *slog.Logger
	metrics  *graph.PrometheusMetrics
	prompter Prompter
	emitter  emit.Emitter
	maxSteps int
	timeout  time.Duration
	now      func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *graph.PrometheusMetrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithPrompter answers pauses of embedded-mode jobs inline.
func WithPrompter(p Prompter) ControllerOption {
	return func(c *Controller) { c.prompter = p }
}

// WithEmitter receives a graph event per executed node.
func WithEmitter(e emit.Emitter) ControllerOption {
	return func(c *Controller) { c.emitter = e }
}

// WithMaxSteps bounds the nodes executed per invocation.
func WithMaxSteps(n int) ControllerOption {
	return func(c *Controller) { c.maxSteps = n }
}

// WithNodeTimeout bounds each pipeline step. 0 means no limit.
func WithNodeTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// NewController builds the pipeline graph once. It is shared by all jobs.
func NewController(deps Deps, st store.Store[State], opts ...ControllerOption) (*Controller, error) {
	if deps.Generator == nil {
		return nil, errors.New("novel: a text generator is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("novel: a scorer is required")
	}
	if st == nil {
		return nil, errors.New("novel: a store is required")
	}
	if deps.Knowledge == nil {
		deps.Knowledge = knowledge.NewMemoryBase()
	}

	c := &Controller{
		store:    st,
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.pipeline = &pipeline{deps: deps, logger: c.logger, metrics: c.metrics}
	engine, err := buildEngine(c.pipeline, st, c.emitter,
		graph.WithMaxSteps(c.maxSteps),
		graph.WithMetrics(c.metrics),
		graph.WithNodeTimeout(c.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}
	c.engine = engine
	return c, nil
}

// Submit validates cfg and records a pending job. It returns the job ID.
func (c *Controller) Submit(ctx context.Context, cfg JobConfig) (string, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	state := NewState(id, cfg)
	rec := store.JobRecord[State]{
		ID:            id,
		Status:        state.Status.String(),
		SchemaVersion: SchemaVersion,
		Snapshot:      state,
	}
	if err := c.store.CreateJob(ctx, rec); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	c.logger.Info("job submitted", "job_id", id, "chapters", cfg.Chapters, "auto_mode", cfg.AutoMode,
		"interaction_mode", cfg.InteractionMode)
	return id, nil
}

// Run starts a pending job and drives it to completion, failure or the
// first pause that needs an external decision.
func (c *Controller) Run(ctx context.Context, id string, policy Policy) (Status, error) {
	rec, err := c.store.UpdateJob(ctx, id, func(r *store.JobRecord[State]) error {
		if err := checkSchema(r); err != nil {
			return err
		}
		if r.Snapshot.Status.Kind != StatusPending {
			return fmt.Errorf("%w: job %s is %s, not pending", ErrPrecondition, id, r.Status)
		}
		r.Snapshot.Status = Running()
		r.Snapshot.InvocationCount++
		r.Status = r.Snapshot.Status.String()
		r.CurrentStep = StartNode
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	return c.drive(ctx, rec.Snapshot, StartNode, policy)
}

// Resume accepts a decision for a paused job and continues it.
func (c *Controller) Resume(ctx context.Context, id string, t DecisionType, payload DecisionPayload, policy Policy) (Status, error) {
	if err := c.BeginResume(ctx, id, t, payload); err != nil {
		return Status{}, err
	}
	return c.Continue(ctx, id, policy)
}

// BeginResume validates and records a decision without running the job.
// The job must be paused for exactly decision type t. On success the job
// is running and Continue picks it up; on any error nothing is modified.
func (c *Controller) BeginResume(ctx context.Context, id string, t DecisionType, payload DecisionPayload) error {
	_, err := c.beginResume(ctx, id, t, payload, nil)
	return err
}

// beginResume is BeginResume with a hook that may edit the state after
// validation, inside the same atomic update.
func (c *Controller) beginResume(ctx context.Context, id string, t DecisionType, payload DecisionPayload, mutate func(*State) error) (State, error) {
	rec, err := c.store.UpdateJob(ctx, id, func(r *store.JobRecord[State]) error {
		if err := checkSchema(r); err != nil {
			return err
		}
		s := &r.Snapshot
		if s.Status.Terminal() {
			return fmt.Errorf("%w: job %s is %s", ErrPrecondition, id, s.Status)
		}
		if s.Status.Kind != StatusPaused || s.PendingDecision == nil {
			return fmt.Errorf("%w: job %s is %s, not paused", ErrPrecondition, id, s.Status)
		}
		if s.PendingDecision.Type != t {
			return fmt.Errorf("%w: job %s is waiting for %s, not %s", ErrPrecondition, id, s.PendingDecision.Type, t)
		}

		payload.Type = t
		if err := validatePayload(*s.PendingDecision, payload); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(s); err != nil {
				return err
			}
		}

		s.DecisionPayload = &payload
		s.InvocationCount++
		s.ResumeNode = s.PendingDecision.Node
		s.PendingDecision = nil
		s.Status = Running()
		s.logf("Received %s decision.", t)

		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal decision payload: %w", err)
		}
		r.LastDecisionPayload = raw
		r.Status = s.Status.String()
		r.PendingDecisionType = ""
		r.PendingDecisionOptions = nil
		r.PendingDecisionPrompt = ""
		r.ErrorMessage = ""
		return nil
	})
	if err != nil {
		return State{}, err
	}
	c.logger.Info("decision accepted", "job_id", id, "decision_type", t, "resume_node", rec.Snapshot.ResumeNode)
	return rec.Snapshot, nil
}

// Continue runs a job whose decision was accepted by BeginResume. Only one
// caller can claim a given resume.
func (c *Controller) Continue(ctx context.Context, id string, policy Policy) (Status, error) {
	s, from, err := c.claim(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return c.drive(ctx, s, from, policy)
}

// claim atomically takes the resume node of a job with an accepted
// decision.
func (c *Controller) claim(ctx context.Context, id string) (State, string, error) {
	var from string
	rec, err := c.store.UpdateJob(ctx, id, func(r *store.JobRecord[State]) error {
		if err := checkSchema(r); err != nil {
			return err
		}
		if r.Snapshot.Status.Kind != StatusRunning || r.Snapshot.ResumeNode == "" {
			return fmt.Errorf("%w: job %s has no accepted decision to continue from", ErrPrecondition, id)
		}
		from = r.Snapshot.ResumeNode
		r.Snapshot.ResumeNode = ""
		r.CurrentStep = from
		return nil
	})
	if err != nil {
		return State{}, "", err
	}
	return rec.Snapshot, from, nil
}

// ManualReview answers a manual chapter review. submit_edit replaces the
// stored chapter content before the job continues.
func (c *Controller) ManualReview(ctx context.Context, id string, chapter int, action, edited string, policy Policy) (Status, error) {
	if err := c.BeginManualReview(ctx, id, chapter, action, edited); err != nil {
		return Status{}, err
	}
	return c.Continue(ctx, id, policy)
}

// BeginManualReview records a manual review answer without running the
// job, like BeginResume.
func (c *Controller) BeginManualReview(ctx context.Context, id string, chapter int, action, edited string) error {
	payload := DecisionPayload{Action: action, EditedContent: edited}
	_, err := c.beginResume(ctx, id, DecisionManualReview, payload, applyReview(chapter, action, edited))
	return err
}

// applyReview checks the review targets the pending chapter and stores an
// edit directly in the snapshot.
func applyReview(chapter int, action, edited string) func(*State) error {
	return func(s *State) error {
		if s.PendingDecision.Chapter != chapter {
			return fmt.Errorf("%w: review is pending for chapter %d, not %d", ErrPrecondition, s.PendingDecision.Chapter, chapter)
		}
		if action == ActionSubmitEdit {
			ch := s.Chapter(chapter)
			if ch == nil {
				return fmt.Errorf("%w: chapter %d has not been written", ErrInvalidDecision, chapter)
			}
			ch.Content = edited
		}
		return nil
	}
}

// Cancel marks a job cancelled. A run in progress finishes its current
// node and then stops being persisted as anything but cancelled.
func (c *Controller) Cancel(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "cancelled by request"
	}
	_, err := c.store.UpdateJob(ctx, id, func(r *store.JobRecord[State]) error {
		s := &r.Snapshot
		if s.Status.Terminal() {
			return fmt.Errorf("%w: job %s is already %s", ErrPrecondition, id, s.Status)
		}
		s.Status = Cancelled(reason)
		s.PendingDecision = nil
		s.DecisionPayload = nil
		s.ResumeNode = ""
		s.logf("Job cancelled: %s", reason)
		r.Status = s.Status.String()
		r.ErrorMessage = reason
		r.PendingDecisionType = ""
		r.PendingDecisionOptions = nil
		r.PendingDecisionPrompt = ""
		r.LastDecisionPayload = nil
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.IncrementJobsFinished(string(StatusCancelled))
	c.logger.Info("job cancelled", "job_id", id, "reason", reason)
	return nil
}

// drive runs the graph from a node, persists the outcome and, for
// embedded jobs with a prompter, answers pauses inline and keeps going.
func (c *Controller) drive(ctx context.Context, s State, from string, policy Policy) (Status, error) {
	done := c.metrics.JobStarted()
	defer done()

	if policy == nil {
		policy = DefaultPolicy{Logger: c.logger}
	}
	runCtx := WithPolicy(ctx, policy)

	for {
		runID := fmt.Sprintf("%s/%d", s.JobID, s.InvocationCount)
		c.logger.Debug("running job", "job_id", s.JobID, "from", from, "invocation", s.InvocationCount)

		final, runErr := c.engine.RunFrom(runCtx, runID, from, s)
		if final.JobID == "" {
			final = s
		}
		status, err := c.persist(ctx, final, runErr)
		if err != nil {
			return status, err
		}
		if runErr != nil {
			return status, runErr
		}

		if status.Kind != StatusPaused || c.prompter == nil ||
			final.Config.InteractionMode != InteractionEmbedded || final.PendingDecision == nil {
			return status, nil
		}

		pending := *final.PendingDecision
		payload, err := c.prompter.Prompt(ctx, pending)
		if err != nil {
			return status, fmt.Errorf("prompt for %s: %w", pending.Type, err)
		}
		var mutate func(*State) error
		if pending.Type == DecisionManualReview {
			mutate = applyReview(pending.Chapter, payload.Action, payload.EditedContent)
		}
		if _, err := c.beginResume(ctx, s.JobID, pending.Type, payload, mutate); err != nil {
			return status, err
		}
		if s, from, err = c.claim(ctx, s.JobID); err != nil {
			return status, err
		}
	}
}

// persist writes the outcome of one engine run to the job record. A job
// cancelled while it ran stays cancelled.
func (c *Controller) persist(ctx context.Context, s State, runErr error) (Status, error) {
	switch {
	case runErr == nil && (s.Status.Kind == StatusPaused || s.Status.Kind == StatusCompleted):
	case runErr == nil:
		s.Status = Failed("run ended without reaching a pause or completion")
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		s.Status = Failed("interrupted")
	default:
		s.Status = Failed(runErr.Error())
		s.ErrorMessage = runErr.Error()
	}
	if s.Status.Kind != StatusPaused {
		s.PendingDecision = nil
	}
	if s.Status.Kind == StatusFailed {
		s.logf("Job failed: %s", s.Status.Reason)
	}

	var final Status
	_, err := c.store.UpdateJob(context.WithoutCancel(ctx), s.JobID, func(r *store.JobRecord[State]) error {
		if r.Snapshot.Status.Kind == StatusCancelled {
			cancelled := r.Snapshot.Status
			r.Snapshot = s
			r.Snapshot.Status = cancelled
			r.Snapshot.PendingDecision = nil
			r.Snapshot.DecisionPayload = nil
			final = cancelled
			return nil
		}

		r.Snapshot = s
		r.Status = s.Status.String()
		r.CurrentStep = s.CurrentStep
		r.LastDecisionPayload = nil
		r.PendingDecisionType = ""
		r.PendingDecisionOptions = nil
		r.PendingDecisionPrompt = ""
		r.ErrorMessage = ""
		if d := s.PendingDecision; d != nil {
			options, err := json.Marshal(d.Options)
			if err != nil {
				return fmt.Errorf("marshal decision options: %w", err)
			}
			r.PendingDecisionType = string(d.Type)
			r.PendingDecisionOptions = options
			r.PendingDecisionPrompt = d.Prompt
		}
		if s.Status.Kind == StatusFailed {
			r.ErrorMessage = s.Status.Reason
		}
		final = s.Status
		return nil
	})
	if err != nil {
		return s.Status, fmt.Errorf("persist job %s: %w", s.JobID, err)
	}

	if final.Terminal() && final.Kind != StatusCancelled {
		c.metrics.IncrementJobsFinished(string(final.Kind))
	}
	c.logger.Info("job invocation finished", "job_id", s.JobID, "status", final.String(),
		"chapter", s.CurrentChapter, "written", len(s.WrittenChapters))
	return final, nil
}

func checkSchema(r *store.JobRecord[State]) error {
	if r.SchemaVersion != SchemaVersion || r.Snapshot.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: job %s has version %d, want %d", ErrSchemaVersion, r.ID, r.Snapshot.SchemaVersion, SchemaVersion)
	}
	return nil
}

// validatePayload checks a decision against the options it answers.
func validatePayload(d PendingDecision, p DecisionPayload) error {
	hasOption := func(id string) bool {
		for _, o := range d.Options {
			if o.ID == id {
				return true
			}
		}
		return false
	}

	switch d.Type {
	case DecisionConflict:
		action := p.Action
		if alias, ok := actionAliases[action]; ok {
			action = alias
		}
		switch action {
		case ActionApplySuggestion, ActionIgnore:
			if !hasOption(p.ConflictID) {
				return fmt.Errorf("%w: unknown conflict %q", ErrInvalidDecision, p.ConflictID)
			}
			if p.SuggestionIndex != nil && *p.SuggestionIndex < 0 {
				return fmt.Errorf("%w: suggestion_index must be >= 0", ErrInvalidDecision)
			}
		case ActionRewriteAll, ActionProceedRemaining:
		default:
			return fmt.Errorf("%w: unknown conflict action %q", ErrInvalidDecision, p.Action)
		}

	case DecisionManualReview:
		switch p.Action {
		case ActionUseAsIs:
		case ActionSubmitEdit:
			if p.EditedContent == "" {
				return fmt.Errorf("%w: submit_edit needs edited_content", ErrInvalidDecision)
			}
		default:
			return fmt.Errorf("%w: unknown review action %q", ErrInvalidDecision, p.Action)
		}

	default:
		if !hasOption(p.SelectedID) {
			return fmt.Errorf("%w: unknown option %q for %s", ErrInvalidDecision, p.SelectedID, d.Type)
		}
	}
	return nil
}
