package novel

import (
	"context"
	"log/slog"
	"math"
)

// ModeScoreThreshold makes DefaultPolicy compare DecisionContext.Score
// against DecisionContext.Threshold instead of picking the first option.
const ModeScoreThreshold = "score_threshold_branch"

// DecisionContext describes the decision being made.
type DecisionContext struct {
	Type    DecisionType
	Chapter int

	// Mode selects a specialised decision rule. Empty means default.
	Mode string

	// Score, Threshold and Operator are read in ModeScoreThreshold.
	// Operator is one of ">=", ">", "<=", "<", "==", "!=".
	Score     *float64
	Threshold *float64
	Operator  string
}

// Policy makes decisions without human input. It is passed to each run
// and never stored in the snapshot.
//
// For the chapter quality gate the pipeline computes the verdict itself
// and offers it as the first option, so a policy that always picks the
// first option keeps the threshold rule. Picking the other option
// overrides it.
type Policy interface {
	// Decide picks one of options. It returns false only when options is
	// empty.
	Decide(options []DecisionOption, dc DecisionContext) (DecisionOption, bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(options []DecisionOption, dc DecisionContext) (DecisionOption, bool)

// Decide implements Policy.
func (f PolicyFunc) Decide(options []DecisionOption, dc DecisionContext) (DecisionOption, bool) {
	return f(options, dc)
}

// DefaultPolicy picks the first option. In ModeScoreThreshold it takes two
// options and returns the first when "Score Operator Threshold" holds,
// else the second. Missing or invalid inputs fall back to the first option
// with a warning; it never fails.
type DefaultPolicy struct {
	Logger *slog.Logger
}

// Decide implements Policy.
func (p DefaultPolicy) Decide(options []DecisionOption, dc DecisionContext) (DecisionOption, bool) {
	if len(options) == 0 {
		return DecisionOption{}, false
	}
	if dc.Mode != ModeScoreThreshold {
		return options[0], true
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	warn := func(reason string) (DecisionOption, bool) {
		logger.Warn("score threshold decision fell back to first option",
			"reason", reason, "decision_type", dc.Type, "chapter", dc.Chapter)
		return options[0], true
	}

	if len(options) < 2 {
		return warn("need two options")
	}
	if dc.Score == nil || dc.Threshold == nil {
		return warn("missing score or threshold")
	}
	score, threshold := *dc.Score, *dc.Threshold
	if math.IsNaN(score) || math.IsNaN(threshold) {
		return warn("score or threshold is NaN")
	}

	var holds bool
	switch dc.Operator {
	case ">=":
		holds = score >= threshold
	case ">":
		holds = score > threshold
	case "<=":
		holds = score <= threshold
	case "<":
		holds = score < threshold
	case "==":
		holds = score == threshold
	case "!=":
		holds = score != threshold
	default:
		return warn("unknown operator " + dc.Operator)
	}
	if holds {
		return options[0], true
	}
	return options[1], true
}

type policyKey struct{}

// WithPolicy attaches a Policy to ctx for the nodes of a run.
func WithPolicy(ctx context.Context, p Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

// PolicyFrom returns the Policy attached to ctx, or DefaultPolicy.
func PolicyFrom(ctx context.Context) Policy {
	if p, ok := ctx.Value(policyKey{}).(Policy); ok && p != nil {
		return p
	}
	return DefaultPolicy{}
}
