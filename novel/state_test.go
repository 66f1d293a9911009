package novel

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Pending(), "pending"},
		{Running(), "running"},
		{Completed(), "completed"},
		{Failed("boom"), "failed"},
		{Cancelled("stop"), "cancelled"},
		{Paused(DecisionOutline, 0), "paused_for_outline_selection"},
		{Paused(DecisionConflict, 3), "paused_for_conflict_review_ch_3"},
		{Paused(DecisionManualReview, 12), "paused_for_manual_chapter_review_ch_12"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			parsed, err := ParseStatus(tt.want)
			if err != nil {
				t.Fatalf("ParseStatus failed: %v", err)
			}
			if parsed.Kind != tt.status.Kind || parsed.DecisionType != tt.status.DecisionType || parsed.Chapter != tt.status.Chapter {
				t.Errorf("expected %+v, got %+v", tt.status, parsed)
			}
		})
	}

	for _, bad := range []string{"", "paused_for_", "sleeping"} {
		if _, err := ParseStatus(bad); err == nil {
			t.Errorf("expected error parsing %q", bad)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{Completed(), Failed("x"), Cancelled("y")} {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{Pending(), Running(), Paused(DecisionOutline, 0)} {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}

func TestJobConfig(t *testing.T) {
	cfg := JobConfig{Theme: "  tides  ", Chapters: 4}
	cfg.Normalize()
	if cfg.Theme != "tides" {
		t.Errorf("expected trimmed theme, got %q", cfg.Theme)
	}
	if cfg.MaxChapterRetries == nil || *cfg.MaxChapterRetries != DefaultMaxChapterRetries {
		t.Errorf("expected default retries, got %v", cfg.MaxChapterRetries)
	}
	if cfg.InteractionMode != InteractionRemote ||
		cfg.MaxLoopIterations != DefaultMaxLoopIterations || cfg.QualityThreshold != DefaultQualityThreshold ||
		cfg.OptionCount != DefaultOptionCount || cfg.BranchLength != DefaultBranchLength {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*JobConfig)
		field  string
	}{
		{"missing theme", func(c *JobConfig) { c.Theme = "" }, "Theme"},
		{"too many chapters", func(c *JobConfig) { c.Chapters = 500 }, "Chapters"},
		{"unknown mode", func(c *JobConfig) { c.InteractionMode = "telepathic" }, "InteractionMode"},
		{"threshold out of range", func(c *JobConfig) { c.QualityThreshold = 11 }, "QualityThreshold"},
		{"negative twist", func(c *JobConfig) { c.TwistAtChapter = -1 }, "TwistAtChapter"},
		{"negative retries", func(c *JobConfig) { c.MaxChapterRetries = Retries(-1) }, "MaxChapterRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			tt.mutate(&c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}

func TestJobConfig_Bounds(t *testing.T) {
	t.Run("loop cap scales with chapters", func(t *testing.T) {
		for _, tt := range []struct{ chapters, want int }{{1, DefaultMaxLoopIterations}, {10, 20}, {25, 50}, {200, 400}} {
			cfg := JobConfig{Theme: "t", Chapters: tt.chapters}
			cfg.Normalize()
			if cfg.MaxLoopIterations != tt.want {
				t.Errorf("%d chapters: expected cap %d, got %d", tt.chapters, tt.want, cfg.MaxLoopIterations)
			}
		}
	})

	t.Run("explicit loop cap kept", func(t *testing.T) {
		cfg := JobConfig{Theme: "t", Chapters: 25, MaxLoopIterations: 3}
		cfg.Normalize()
		if cfg.MaxLoopIterations != 3 {
			t.Errorf("expected cap 3, got %d", cfg.MaxLoopIterations)
		}
	})

	t.Run("zero retries kept", func(t *testing.T) {
		cfg := JobConfig{Theme: "t", Chapters: 2, MaxChapterRetries: Retries(0)}
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("expected valid config, got %v", err)
		}
		if s := NewState("j", cfg); s.MaxChapterRetries != 0 {
			t.Errorf("expected retries disabled, got %d", s.MaxChapterRetries)
		}
	})
}

func TestStateHelpers(t *testing.T) {
	s := testState(3)
	s.putChapter(Chapter{Number: 3, Title: "c"})
	s.putChapter(Chapter{Number: 1, Title: "a"})
	s.putChapter(Chapter{Number: 2, Title: "b"})
	s.putChapter(Chapter{Number: 2, Title: "b2"})

	if len(s.WrittenChapters) != 3 || s.WrittenChapters[1].Title != "b2" {
		t.Fatalf("expected ordered, replaced chapters, got %+v", s.WrittenChapters)
	}
	if got := s.discardChaptersFrom(2); got != 2 || len(s.WrittenChapters) != 1 {
		t.Errorf("expected 2 discarded leaving 1, got %d leaving %d", got, len(s.WrittenChapters))
	}
	if e := s.PlanFor(9); e.Number != 9 || e.Title != "Chapter 9" {
		t.Errorf("expected generic plan entry, got %+v", e)
	}
	if got := len(s.planBefore(3)); got != 2 {
		t.Errorf("expected 2 entries before 3, got %d", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testState(2)
	s.Status = Paused(DecisionWorldview, 0)
	s.PendingDecision = &PendingDecision{Type: DecisionWorldview, Node: NodeSelectWorldview,
		Options: []DecisionOption{{ID: "0", Summary: "w"}}}
	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := EncodeSnapshot(s, saved)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	if snap.ResumeNode != NodeSelectWorldview || !snap.SavedAt.Equal(saved) {
		t.Errorf("unexpected envelope: %s at %v", snap.ResumeNode, snap.SavedAt)
	}
	if snap.State.Status.String() != "paused_for_worldview_selection" || len(snap.State.ChapterPlan) != 2 {
		t.Errorf("state not preserved: %+v", snap.State.Status)
	}
}

func TestDecodeSnapshot_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"other schema version", `{"schema_version": 2, "state": {"schema_version": 2}}`, ErrSchemaVersion},
		{"state version mismatch", `{"schema_version": 1, "state": {"schema_version": 0}}`, ErrSchemaVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSnapshot([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if _, err := DecodeSnapshot([]byte("not json")); err == nil {
		t.Error("expected error for malformed snapshot")
	}
}

func TestDecisionTypeValid(t *testing.T) {
	for _, dt := range []DecisionType{DecisionOutline, DecisionWorldview, DecisionCharacters,
		DecisionPlotTwist, DecisionPlotBranch, DecisionConflict, DecisionManualReview} {
		if !dt.Valid() {
			t.Errorf("%s should be valid", dt)
		}
	}
	for _, dt := range []DecisionType{"", "outline", "conflict_review_ch_1"} {
		if dt.Valid() {
			t.Errorf("%q should not be valid", dt)
		}
	}
}
