package novel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/graph/model"
)

// pipeline holds the collaborators shared by the nodes of every job.
type pipeline struct {
	deps    Deps
	logger  *slog.Logger
	metrics *graph.PrometheusMetrics
}

// fail turns err into a fatal node error. Missing credentials are setup
// errors; everything else that reaches here is unrecoverable.
func (p *pipeline) fail(node string, err error) graph.NodeResult[State] {
	code := "NODE_FAILED"
	msg := "node failed"
	if errors.Is(err, model.ErrMissingCredentials) {
		code = "SETUP_ERROR"
		msg = "collaborator setup failed"
	}
	return graph.NodeResult[State]{Err: &graph.NodeError{Message: msg, Code: code, NodeID: node, Cause: err}}
}

// fatal reports whether a collaborator error must abort the job.
func fatal(err error) bool {
	return errors.Is(err, model.ErrMissingCredentials)
}

// generate calls the text generator. Recoverable failures are recorded in
// the state; the caller still gets the error to pick a fallback.
func (p *pipeline) generate(ctx context.Context, s *State, node, prompt string) (string, error) {
	text, err := p.deps.Generator.GenerateText(ctx, prompt)
	if err != nil {
		s.ErrorMessage = fmt.Sprintf("%s: %v", node, err)
		if !fatal(err) {
			s.logf("Text generation failed in %s: %v", node, err)
			p.logger.Warn("text generation failed", "job_id", s.JobID, "node", node, "error", err)
		}
		return "", err
	}
	return text, nil
}

// pause suspends the job at node until a decision of type t arrives.
func (p *pipeline) pause(s *State, node string, t DecisionType, chapter int, prompt string, options []DecisionOption) {
	s.Status = Paused(t, chapter)
	s.PendingDecision = &PendingDecision{
		Type:    t,
		Prompt:  prompt,
		Options: options,
		Chapter: chapter,
		Node:    node,
	}
	s.logf("Paused for %s.", s.Status)
	p.metrics.IncrementPauses(string(t))
	p.logger.Info("job paused", "job_id", s.JobID, "decision_type", t, "chapter", chapter, "options", len(options))
}

// choose resolves a selection point. In auto mode the policy picks; else a
// matching decision payload is consumed; else the job pauses and choose
// returns false.
func (p *pipeline) choose(ctx context.Context, s *State, node string, t DecisionType, chapter int, prompt string, options []DecisionOption) (DecisionOption, bool) {
	if s.Config.AutoMode {
		if opt, ok := PolicyFrom(ctx).Decide(options, DecisionContext{Type: t, Chapter: chapter}); ok {
			s.logf("Auto-selected option %s for %s: %s", opt.ID, t, opt.Summary)
			return opt, true
		}
	}

	if pl := s.DecisionPayload; pl != nil && pl.Type == t {
		s.DecisionPayload = nil
		for _, opt := range options {
			if opt.ID == pl.SelectedID {
				s.logf("Selected option %s for %s: %s", opt.ID, t, opt.Summary)
				return opt, true
			}
		}
		s.logf("Decision for %s named unknown option %q; asking again.", t, pl.SelectedID)
	}

	p.pause(s, node, t, chapter, prompt, options)
	return DecisionOption{}, false
}

// indexOf returns the index an option ID stands for.
func indexOf(opt DecisionOption, n int) (int, bool) {
	i, err := strconv.Atoi(opt.ID)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// indexedOptions builds options with IDs "0", "1", ... from values.
func indexedOptions[T any](values []T, summary func(T) string) []DecisionOption {
	out := make([]DecisionOption, 0, len(values))
	for i, v := range values {
		data, _ := json.Marshal(v)
		out = append(out, DecisionOption{ID: strconv.Itoa(i), Summary: summary(v), Data: data})
	}
	return out
}

// excerpt shortens s to at most n runes for summaries.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
