package novel

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dshills/storygraph/novel/parse"
)

// SchemaVersion is the version of the State layout. Snapshots written with
// another version are rejected with ErrSchemaVersion.
const SchemaVersion = 1

// Artifact types shared with the parsers.
type (
	PlanEntry = parse.PlanEntry
	Character = parse.Character
	Twist     = parse.Twist
	Branch    = parse.Branch
)

// DecisionType names a point where a job can pause.
type DecisionType string

const (
	DecisionOutline      DecisionType = "outline_selection"
	DecisionWorldview    DecisionType = "worldview_selection"
	DecisionCharacters   DecisionType = "character_selection"
	DecisionPlotTwist    DecisionType = "plot_twist_selection"
	DecisionPlotBranch   DecisionType = "plot_branch_selection"
	DecisionConflict     DecisionType = "conflict_review"
	DecisionManualReview DecisionType = "manual_chapter_review"
)

// Valid reports whether t is a known decision type.
func (t DecisionType) Valid() bool {
	switch t {
	case DecisionOutline, DecisionWorldview, DecisionCharacters, DecisionPlotTwist,
		DecisionPlotBranch, DecisionConflict, DecisionManualReview:
		return true
	}
	return false
}

// DecisionOption is one externally visible choice.
type DecisionOption struct {
	ID      string          `json:"id"`
	Summary string          `json:"text_summary"`
	Data    json.RawMessage `json:"full_data,omitempty"`
}

// PendingDecision describes what a paused job is waiting for.
type PendingDecision struct {
	Type    DecisionType     `json:"decision_type"`
	Prompt  string           `json:"prompt"`
	Options []DecisionOption `json:"options"`

	// Chapter is the chapter the decision belongs to, 0 if none.
	Chapter int `json:"chapter,omitempty"`

	// Node is the node that paused and re-runs on resume.
	Node string `json:"node"`
}

// Conflict review and manual review actions.
const (
	ActionSelect           = "select"
	ActionApplySuggestion  = "apply_suggestion"
	ActionIgnore           = "ignore"
	ActionRewriteAll       = "rewrite_all"
	ActionProceedRemaining = "proceed_with_remaining"
	ActionUseAsIs          = "use_as_is"
	ActionSubmitEdit       = "submit_edit"
)

// actionAliases maps the long-form action names accepted from clients.
var actionAliases = map[string]string{
	"ignore_conflict":                       ActionIgnore,
	"attempt_generic_rewrite_all_conflicts": ActionRewriteAll,
}

// DecisionPayload is an external decision merged into State on resume.
type DecisionPayload struct {
	Type            DecisionType    `json:"decision_type"`
	Action          string          `json:"action,omitempty"`
	SelectedID      string          `json:"selected_id,omitempty"`
	ConflictID      string          `json:"conflict_id,omitempty"`
	SuggestionIndex *int            `json:"suggestion_index,omitempty"`
	EditedContent   string          `json:"edited_content,omitempty"`
	CustomData      json.RawMessage `json:"custom_data,omitempty"`
}

// Chapter is a written chapter.
type Chapter struct {
	Number  int     `json:"chapter_number"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Summary string  `json:"summary"`
	Score   float64 `json:"quality_score"`

	// Parse is the strategy that produced the chapter, or empty when the
	// draft call failed.
	Parse parse.Strategy `json:"parse_strategy,omitempty"`
}

// QualityReport is the last quality score of the current chapter.
type QualityReport struct {
	Chapter    int                `json:"chapter"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Overall    float64            `json:"overall"`
	Rationale  string             `json:"rationale"`
}

// ConflictStatus tracks a conflict through review.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// Conflict is a finding that a chapter contradicts established facts.
type Conflict struct {
	ID          string         `json:"conflict_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Chapter     int            `json:"chapter"`
	Excerpt     string         `json:"excerpt"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Status      ConflictStatus `json:"status"`
}

// State is threaded through every node of the pipeline and persisted as
// the job snapshot.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	JobID         string    `json:"job_id"`
	Config        JobConfig `json:"job_config"`

	OutlineOptions     []string      `json:"outline_options,omitempty"`
	SelectedOutline    string        `json:"selected_outline,omitempty"`
	WorldviewOptions   []string      `json:"worldview_options,omitempty"`
	SelectedWorldview  string        `json:"selected_worldview,omitempty"`
	CharacterOptions   [][]Character `json:"character_options,omitempty"`
	SelectedCharacters []Character   `json:"selected_characters,omitempty"`
	TwistOptions       []Twist       `json:"plot_twist_options,omitempty"`
	SelectedTwist      *Twist        `json:"selected_plot_twist,omitempty"`
	BranchOptions      []Branch      `json:"plot_branch_options,omitempty"`
	SelectedBranch     *Branch       `json:"selected_plot_branch,omitempty"`

	ChapterPlan     []PlanEntry `json:"chapter_plan,omitempty"`
	WrittenChapters []Chapter   `json:"written_chapters,omitempty"`

	CurrentChapter     int `json:"current_chapter_number"`
	TotalChapters      int `json:"total_chapters"`
	ChapterRetryCount  int `json:"chapter_retry_count"`
	MaxChapterRetries  int `json:"max_chapter_retries"`
	LoopIterationCount int `json:"loop_iteration_count"`
	MaxLoopIterations  int `json:"max_loop_iterations"`
	InvocationCount    int `json:"invocation_count"`

	ChapterBrief               string         `json:"chapter_brief,omitempty"`
	LastQuality                *QualityReport `json:"last_quality,omitempty"`
	RetryRequested             bool           `json:"retry_requested,omitempty"`
	RetryFeedback              string         `json:"retry_feedback,omitempty"`
	OriginalContentBeforeRetry string         `json:"original_content_before_retry,omitempty"`
	Conflicts                  []Conflict     `json:"conflicts,omitempty"`

	NeedsPlotRegeneration bool `json:"needs_plot_regeneration"`
	RegenerationStart     int  `json:"regeneration_start_chapter,omitempty"`
	PlotModifiedAt        int  `json:"plot_modified_at_chapter,omitempty"`
	TwistHandled          bool `json:"twist_handled,omitempty"`
	BranchHandled         bool `json:"branch_handled,omitempty"`

	Status          Status           `json:"status"`
	PendingDecision *PendingDecision `json:"pending_decision,omitempty"`
	DecisionPayload *DecisionPayload `json:"decision_payload,omitempty"`

	// ResumeNode is where the next Continue re-enters the graph. It is set
	// when a decision is accepted and cleared when the run starts.
	ResumeNode string `json:"resume_node,omitempty"`

	// CurrentStep is the last node that ran.
	CurrentStep string `json:"current_step,omitempty"`

	// ErrorMessage is the last collaborator failure, recoverable or not.
	ErrorMessage string   `json:"error_message,omitempty"`
	History      []string `json:"history,omitempty"`
}

// NewState creates the initial state of a job. cfg must be normalized.
func NewState(jobID string, cfg JobConfig) State {
	return State{
		SchemaVersion:     SchemaVersion,
		JobID:             jobID,
		Config:            cfg,
		CurrentChapter:    1,
		TotalChapters:     cfg.Chapters,
		MaxChapterRetries: retriesOf(cfg),
		MaxLoopIterations: cfg.MaxLoopIterations,
		Status:            Pending(),
		History:           []string{fmt.Sprintf("Job created: %d chapters on %q.", cfg.Chapters, cfg.Theme)},
	}
}

func retriesOf(cfg JobConfig) int {
	if cfg.MaxChapterRetries == nil {
		return DefaultMaxChapterRetries
	}
	return *cfg.MaxChapterRetries
}

func (s *State) logf(format string, args ...interface{}) {
	s.History = append(s.History, fmt.Sprintf(format, args...))
}

// Chapter returns the written chapter n, or nil.
func (s *State) Chapter(n int) *Chapter {
	for i := range s.WrittenChapters {
		if s.WrittenChapters[i].Number == n {
			return &s.WrittenChapters[i]
		}
	}
	return nil
}

// PlanFor returns the plan entry of chapter n, or a generic entry when the
// plan has none.
func (s *State) PlanFor(n int) PlanEntry {
	for _, e := range s.ChapterPlan {
		if e.Number == n {
			return e
		}
	}
	return PlanEntry{Number: n, Title: fmt.Sprintf("Chapter %d", n), Summary: "Continue the story."}
}

// putChapter inserts or replaces a chapter, keeping the list ordered.
func (s *State) putChapter(ch Chapter) {
	if existing := s.Chapter(ch.Number); existing != nil {
		*existing = ch
		return
	}
	s.WrittenChapters = append(s.WrittenChapters, ch)
	sort.Slice(s.WrittenChapters, func(i, j int) bool {
		return s.WrittenChapters[i].Number < s.WrittenChapters[j].Number
	})
}

// putPlanEntry inserts or replaces a plan entry, keeping the plan ordered.
func (s *State) putPlanEntry(e PlanEntry) {
	for i := range s.ChapterPlan {
		if s.ChapterPlan[i].Number == e.Number {
			s.ChapterPlan[i] = e
			return
		}
	}
	s.ChapterPlan = append(s.ChapterPlan, e)
	sort.Slice(s.ChapterPlan, func(i, j int) bool {
		return s.ChapterPlan[i].Number < s.ChapterPlan[j].Number
	})
}

// discardChaptersFrom drops written chapters numbered start or later and
// returns how many were dropped.
func (s *State) discardChaptersFrom(start int) int {
	kept := s.WrittenChapters[:0:0]
	for _, ch := range s.WrittenChapters {
		if ch.Number < start {
			kept = append(kept, ch)
		}
	}
	dropped := len(s.WrittenChapters) - len(kept)
	s.WrittenChapters = kept
	return dropped
}

// planBefore returns a copy of the plan entries numbered below n.
func (s *State) planBefore(n int) []PlanEntry {
	var out []PlanEntry
	for _, e := range s.ChapterPlan {
		if e.Number < n {
			out = append(out, e)
		}
	}
	return out
}

// openConflicts counts conflicts still awaiting resolution.
func (s *State) openConflicts() int {
	n := 0
	for _, c := range s.Conflicts {
		if c.Status == ConflictOpen {
			n++
		}
	}
	return n
}

func (s *State) conflict(id string) *Conflict {
	for i := range s.Conflicts {
		if s.Conflicts[i].ID == id {
			return &s.Conflicts[i]
		}
	}
	return nil
}
