package novel

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusKind is the variant of a Status.
type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusRunning   StatusKind = "running"
	StatusPaused    StatusKind = "paused"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
	StatusCancelled StatusKind = "cancelled"
)

// Status is the lifecycle state of a job.
//
// DecisionType and Chapter are set only for StatusPaused. Reason carries
// the failure or cancellation message, or "loop_safety_cap" for a job that
// completed early because the loop iteration cap was reached.
type Status struct {
	Kind         StatusKind   `json:"kind"`
	DecisionType DecisionType `json:"decision_type,omitempty"`
	Chapter      int          `json:"chapter,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// ReasonLoopSafetyCap marks a completion forced by the loop iteration cap.
const ReasonLoopSafetyCap = "loop_safety_cap"

func Pending() Status   { return Status{Kind: StatusPending} }
func Running() Status   { return Status{Kind: StatusRunning} }
func Completed() Status { return Status{Kind: StatusCompleted} }

// Paused returns a paused status. chapter is 0 when the decision is not
// tied to a chapter.
func Paused(t DecisionType, chapter int) Status {
	return Status{Kind: StatusPaused, DecisionType: t, Chapter: chapter}
}

func Failed(reason string) Status {
	return Status{Kind: StatusFailed, Reason: reason}
}

func Cancelled(reason string) Status {
	return Status{Kind: StatusCancelled, Reason: reason}
}

// Terminal reports whether the job can make no further progress.
func (s Status) Terminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// String renders the persisted status tag: the kind, or for a pause
// "paused_for_<decision_type>" with "_ch_<n>" appended when the decision
// belongs to a chapter.
func (s Status) String() string {
	if s.Kind != StatusPaused {
		return string(s.Kind)
	}
	tag := "paused_for_" + string(s.DecisionType)
	if s.Chapter > 0 {
		tag += "_ch_" + strconv.Itoa(s.Chapter)
	}
	return tag
}

// ParseStatus reverses String. Reasons are not part of the tag and are
// lost.
func ParseStatus(tag string) (Status, error) {
	switch StatusKind(tag) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status{Kind: StatusKind(tag)}, nil
	}

	rest, ok := strings.CutPrefix(tag, "paused_for_")
	if !ok || rest == "" {
		return Status{}, fmt.Errorf("unknown status %q", tag)
	}
	chapter := 0
	if i := strings.LastIndex(rest, "_ch_"); i > 0 {
		n, err := strconv.Atoi(rest[i+len("_ch_"):])
		if err == nil && n > 0 {
			chapter = n
			rest = rest[:i]
		}
	}
	return Paused(DecisionType(rest), chapter), nil
}
