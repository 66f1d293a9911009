package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dshills/storygraph/graph/store"
	"github.com/dshills/storygraph/novel"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeNotFound           = "not_found"
	CodePreconditionFailed = "precondition_failed"
	CodeInvalidRequest     = "invalid_request"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal_error"
)

const defaultListLimit = 50

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status         string `json:"status"`
	CurrentStep    string `json:"current_step"`
	ErrorMessage   string `json:"error_message,omitempty"`
	StopReason     string `json:"stop_reason,omitempty"`
	AwaitingRunner bool   `json:"awaiting_runner,omitempty"`
}

func newStatusResponse(sum novel.JobSummary) statusResponse {
	return statusResponse{
		Status:         sum.Status,
		CurrentStep:    sum.CurrentStep,
		ErrorMessage:   sum.ErrorMessage,
		StopReason:     sum.StopReason,
		AwaitingRunner: sum.AwaitingRunner,
	}
}

type decisionRequest struct {
	Action          string          `json:"action"`
	SelectedID      string          `json:"selected_id"`
	ConflictID      string          `json:"conflict_id"`
	SuggestionIndex *int            `json:"suggestion_index"`
	EditedContent   string          `json:"edited_content"`
	CustomData      json.RawMessage `json:"custom_data"`
}

type resumeResponse struct {
	StatusAfterResumeTrigger string `json:"status_after_resume_trigger"`
}

type manualReviewRequest struct {
	Action        string `json:"action" binding:"required,oneof=submit_edit use_as_is"`
	EditedContent string `json:"edited_content" binding:"required_if=Action submit_edit"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// writeError maps controller errors to HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, novel.ErrPrecondition), errors.Is(err, novel.ErrSchemaVersion):
		status, code = http.StatusConflict, CodePreconditionFailed
	case errors.Is(err, novel.ErrInvalidDecision), errors.Is(err, novel.ErrInvalidConfig):
		status, code = http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, ErrRunnerStopped), errors.Is(err, store.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, CodeUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "job_id", c.Param("id"), "error", err)
	}
	c.JSON(status, errorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: CodeInvalidRequest})
}

func (s *Server) createJob(c *gin.Context) {
	var cfg novel.JobConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	if s.defaults != nil {
		s.defaults(&cfg)
	}

	if err := s.sched.Ready(); err != nil {
		s.writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	id, err := s.jobs.Submit(ctx, cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.sched.Start(ctx, id); err != nil {
		// The job stays pending; POST /jobs/{id}/requeue or a restart
		// picks it up.
		s.logger.Warn("job recorded but not queued", "job_id", id, "error", err)
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createJobResponse{JobID: id, Status: novel.Pending().String()})
}

func (s *Server) listJobs(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	jobs, err := s.jobs.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) getJob(c *gin.Context) {
	sum, err := s.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getStatus(c *gin.Context) {
	sum, err := s.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(sum))
}

func (s *Server) nextDecision(c *gin.Context) {
	d, err := s.jobs.NextDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if d == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) postDecision(c *gin.Context) {
	t := novel.DecisionType(c.Param("type"))
	if !t.Valid() {
		badRequest(c, errors.New("unknown decision type "+string(t)))
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.sched.Ready(); err != nil {
		s.writeError(c, err)
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	payload := novel.DecisionPayload{
		Type:            t,
		Action:          req.Action,
		SelectedID:      req.SelectedID,
		ConflictID:      req.ConflictID,
		SuggestionIndex: req.SuggestionIndex,
		EditedContent:   req.EditedContent,
		CustomData:      req.CustomData,
	}
	if err := s.jobs.BeginResume(ctx, id, t, payload); err != nil {
		s.writeError(c, err)
		return
	}
	s.resume(c, id, t)
}

func (s *Server) manualReview(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		badRequest(c, errors.New("chapter number must be a positive integer"))
		return
	}
	var req manualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.sched.Ready(); err != nil {
		s.writeError(c, err)
		return
	}

	id := c.Param("id")
	if err := s.jobs.BeginManualReview(c.Request.Context(), id, n, req.Action, req.EditedContent); err != nil {
		s.writeError(c, err)
		return
	}
	s.resume(c, id, novel.DecisionManualReview)
}

// resume hands an accepted decision to the scheduler.
func (s *Server) resume(c *gin.Context, id string, t novel.DecisionType) {
	if err := s.sched.Continue(c.Request.Context(), id); err != nil {
		s.logger.Warn("decision recorded but not queued", "job_id", id, "error", err)
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resumeResponse{
		StatusAfterResumeTrigger: "resuming_with_decision_" + string(t),
	})
}

func (s *Server) listChapters(c *gin.Context) {
	chapters, err := s.jobs.Chapters(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if chapters == nil {
		chapters = []novel.Chapter{}
	}
	c.JSON(http.StatusOK, gin.H{"chapters": chapters})
}

func (s *Server) cancelJob(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	id := c.Param("id")
	if err := s.jobs.Cancel(c.Request.Context(), id, req.Reason); err != nil {
		s.writeError(c, err)
		return
	}
	sum, err := s.jobs.Status(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(sum))
}

// requeueJob queues a job that was accepted but never picked up by a
// runner, such as a submission or decision whose queueing failed.
func (s *Server) requeueJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	sum, err := s.jobs.Status(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !sum.AwaitingRunner {
		s.writeError(c, fmt.Errorf("%w: job %s is %s and not waiting for a runner", novel.ErrPrecondition, id, sum.Status))
		return
	}
	if sum.Status == novel.Pending().String() {
		err = s.sched.Start(ctx, id)
	} else {
		err = s.sched.Continue(ctx, id)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newStatusResponse(sum))
}
