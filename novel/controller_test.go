package novel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/graph/model"
	"github.com/dshills/storygraph/graph/store"
)

func assertChaptersInOrder(t *testing.T, s State, want int) {
	t.Helper()
	if len(s.WrittenChapters) != want {
		t.Fatalf("expected %d written chapters, got %d", want, len(s.WrittenChapters))
	}
	for i, ch := range s.WrittenChapters {
		if ch.Number != i+1 {
			t.Errorf("expected chapter %d at index %d, got %d", i+1, i, ch.Number)
		}
		if ch.Content == "" {
			t.Errorf("chapter %d has no content", ch.Number)
		}
	}
}

func TestController_AutoModeCompletes(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 3, AutoMode: true})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted || status.Reason != "" {
		t.Fatalf("expected completed, got %+v", status)
	}

	s := h.state(t, id)
	assertChaptersInOrder(t, s, 3)
	if s.ChapterRetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", s.ChapterRetryCount)
	}
	if s.LoopIterationCount != 3 {
		t.Errorf("expected 3 loop iterations, got %d", s.LoopIterationCount)
	}
	if s.PendingDecision != nil {
		t.Error("completed job must not have a pending decision")
	}
	if s.SelectedOutline != "Outline 1: a lighthouse keeper uncovers a drowned archive." {
		t.Errorf("expected first outline auto-selected, got %q", s.SelectedOutline)
	}
	if h.kb.Len(id) == 0 {
		t.Error("expected knowledge base documents for the job")
	}

	sum, err := h.ctrl.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if sum.Status != "completed" || sum.CurrentStep != NodeFinalize {
		t.Errorf("expected completed at finalize, got %s at %s", sum.Status, sum.CurrentStep)
	}

	if _, err := h.ctrl.Run(context.Background(), id, nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition running a completed job, got %v", err)
	}
}

func TestController_RemoteOutlineSelection(t *testing.T) {
	h := newHarness(t, Deps{})
	ctx := context.Background()
	id := h.submit(t, JobConfig{Chapters: 2, OptionCount: 2, InteractionMode: InteractionRemote})

	status, err := h.ctrl.Run(ctx, id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := status.String(); got != "paused_for_outline_selection" {
		t.Fatalf("expected paused_for_outline_selection, got %s", got)
	}

	d, err := h.ctrl.NextDecision(ctx, id)
	if err != nil || d == nil {
		t.Fatalf("expected a pending decision, got %v, %v", d, err)
	}
	if len(d.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(d.Options))
	}

	rec, err := h.store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.PendingDecisionType != string(DecisionOutline) || len(rec.PendingDecisionOptions) == 0 || rec.PendingDecisionPrompt == "" {
		t.Errorf("pause fields not persisted: %+v", rec)
	}

	if err := h.ctrl.BeginResume(ctx, id, DecisionOutline, DecisionPayload{SelectedID: "1"}); err != nil {
		t.Fatalf("BeginResume failed: %v", err)
	}
	sum, _ := h.ctrl.Status(ctx, id)
	if sum.Status != "running" {
		t.Errorf("expected running after decision, got %s", sum.Status)
	}

	status, err = h.ctrl.Continue(ctx, id, nil)
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if status.DecisionType != DecisionWorldview {
		t.Fatalf("expected pause for worldview, got %s", status)
	}

	s := h.state(t, id)
	if s.SelectedOutline != s.OutlineOptions[1] {
		t.Errorf("expected second outline selected, got %q", s.SelectedOutline)
	}
	if s.DecisionPayload != nil {
		t.Error("decision payload must be cleared once consumed")
	}
	if s.InvocationCount != 2 {
		t.Errorf("expected invocation count 2, got %d", s.InvocationCount)
	}
	rec, _ = h.store.GetJob(ctx, id)
	if len(rec.LastDecisionPayload) != 0 {
		t.Error("last decision payload must be cleared after the run")
	}

	if _, err := h.ctrl.Continue(ctx, id, nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition on a second Continue, got %v", err)
	}
}

func TestController_Unclaimed(t *testing.T) {
	h := newHarness(t, Deps{})
	ctx := context.Background()
	id := h.submit(t, JobConfig{Chapters: 1})

	unclaimed := func() []string {
		t.Helper()
		jobs, err := h.ctrl.Unclaimed(ctx)
		if err != nil {
			t.Fatalf("Unclaimed failed: %v", err)
		}
		var ids []string
		for _, j := range jobs {
			if !j.AwaitingRunner {
				t.Errorf("job %s listed without awaiting_runner", j.ID)
			}
			ids = append(ids, j.ID+":"+j.Status)
		}
		return ids
	}

	if got := unclaimed(); len(got) != 1 || got[0] != id+":pending" {
		t.Fatalf("expected the pending job, got %v", got)
	}
	if _, err := h.ctrl.Run(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	if got := unclaimed(); len(got) != 0 {
		t.Fatalf("a paused job is not unclaimed, got %v", got)
	}
	if err := h.ctrl.BeginResume(ctx, id, DecisionOutline, DecisionPayload{SelectedID: "0"}); err != nil {
		t.Fatal(err)
	}
	if got := unclaimed(); len(got) != 1 || got[0] != id+":running" {
		t.Fatalf("expected the accepted decision, got %v", got)
	}
	if _, err := h.ctrl.Continue(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	if got := unclaimed(); len(got) != 0 {
		t.Fatalf("expected nothing after continuing, got %v", got)
	}
}

func TestController_ResumeRejectionsDoNotMutate(t *testing.T) {
	h := newHarness(t, Deps{})
	ctx := context.Background()
	id := h.submit(t, JobConfig{Chapters: 1})
	if _, err := h.ctrl.Run(ctx, id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snapshot := func() string {
		rec, err := h.store.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(rec.Snapshot)
		return rec.Status + string(data)
	}
	before := snapshot()

	tests := []struct {
		name    string
		t       DecisionType
		payload DecisionPayload
		want    error
	}{
		{"wrong decision type", DecisionWorldview, DecisionPayload{SelectedID: "0"}, ErrPrecondition},
		{"unknown option", DecisionOutline, DecisionPayload{SelectedID: "7"}, ErrInvalidDecision},
		{"missing option", DecisionOutline, DecisionPayload{}, ErrInvalidDecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ctrl.BeginResume(ctx, id, tt.t, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if after := snapshot(); after != before {
				t.Error("rejected resume modified the job")
			}
		})
	}

	if _, err := h.ctrl.Resume(ctx, "no-such-job", DecisionOutline, DecisionPayload{SelectedID: "0"}, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestController_CancelledJobRejectsResume(t *testing.T) {
	h := newHarness(t, Deps{})
	ctx := context.Background()
	id := h.submit(t, JobConfig{Chapters: 1})
	if _, err := h.ctrl.Run(ctx, id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := h.ctrl.Cancel(ctx, id, "changed my mind"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	sum, _ := h.ctrl.Status(ctx, id)
	if sum.Status != "cancelled" || sum.PendingDecisionType != "" {
		t.Errorf("expected cancelled without pending decision, got %+v", sum)
	}

	if err := h.ctrl.BeginResume(ctx, id, DecisionOutline, DecisionPayload{SelectedID: "0"}); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition resuming a cancelled job, got %v", err)
	}
	if err := h.ctrl.Cancel(ctx, id, ""); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition cancelling twice, got %v", err)
	}
}

func TestController_QualityRetryBound(t *testing.T) {
	h := newHarness(t, Deps{})
	h.score.scores = []float64{3}
	id := h.submit(t, JobConfig{Chapters: 2, AutoMode: true, MaxChapterRetries: Retries(1)})

	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := h.state(t, id)
	assertChaptersInOrder(t, s, 2)
	if got := h.gen.count("chapter"); got != 4 {
		t.Errorf("expected 2 drafts per chapter (4 total), got %d", got)
	}
	if s.ChapterRetryCount != 0 {
		t.Errorf("expected retry count reset, got %d", s.ChapterRetryCount)
	}
}

func TestController_SafetyCap(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 5, AutoMode: true, MaxLoopIterations: 2})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted || status.Reason != ReasonLoopSafetyCap {
		t.Fatalf("expected safety-capped completion, got %+v", status)
	}
	s := h.state(t, id)
	assertChaptersInOrder(t, s, 2)
	if s.LoopIterationCount > s.MaxLoopIterations {
		t.Errorf("loop count %d exceeds cap %d", s.LoopIterationCount, s.MaxLoopIterations)
	}

	sum, err := h.ctrl.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if sum.Status != "completed" || sum.StopReason != ReasonLoopSafetyCap {
		t.Errorf("expected completed with stop reason %s, got %s / %q", ReasonLoopSafetyCap, sum.Status, sum.StopReason)
	}
}

func TestController_LongJobNotCapped(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 25, AutoMode: true})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted || status.Reason != "" {
		t.Fatalf("expected plain completion, got %+v", status)
	}
	assertChaptersInOrder(t, h.state(t, id), 25)

	sum, _ := h.ctrl.Status(context.Background(), id)
	if sum.StopReason != "" {
		t.Errorf("expected no stop reason, got %q", sum.StopReason)
	}
}

func TestController_RetriesDisabled(t *testing.T) {
	h := newHarness(t, Deps{})
	h.score.scores = []float64{1}
	id := h.submit(t, JobConfig{Chapters: 2, AutoMode: true, MaxChapterRetries: Retries(0)})

	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assertChaptersInOrder(t, h.state(t, id), 2)
	if got := h.gen.count("chapter"); got != 2 {
		t.Errorf("expected one draft per chapter, got %d", got)
	}
}

func TestController_PlotTwistRegeneratesTail(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 5, AutoMode: true, TwistAtChapter: 3})

	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := h.state(t, id)
	assertChaptersInOrder(t, s, 5)
	if s.SelectedTwist == nil || s.SelectedTwist.Title != "The keeper lied" {
		t.Fatalf("expected first twist selected, got %+v", s.SelectedTwist)
	}
	for _, e := range s.ChapterPlan {
		prefix := "Planned"
		if e.Number > 3 {
			prefix = "Regenerated"
		}
		if !strings.HasPrefix(e.Title, prefix) {
			t.Errorf("chapter %d plan: expected %s title, got %q", e.Number, prefix, e.Title)
		}
	}
	if h.gen.count("regen") != 1 {
		t.Errorf("expected one regeneration call, got %d", h.gen.count("regen"))
	}
	if s.NeedsPlotRegeneration {
		t.Error("regeneration flag must be cleared")
	}
}

func TestController_PlotBranchSplicesPlan(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 5, AutoMode: true, BranchAtChapter: 2, BranchLength: 2})

	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := h.state(t, id)
	assertChaptersInOrder(t, s, 5)

	want := map[int]string{1: "Planned 1", 2: "Deep 2", 3: "Deep 3", 4: "Regenerated 4", 5: "Regenerated 5"}
	for _, e := range s.ChapterPlan {
		if e.Title != want[e.Number] {
			t.Errorf("chapter %d plan: expected %q, got %q", e.Number, want[e.Number], e.Title)
		}
	}
	if s.RegenerationStart != 4 || s.PlotModifiedAt != 2 {
		t.Errorf("expected modified at 2 and regeneration from 4, got %d and %d", s.PlotModifiedAt, s.RegenerationStart)
	}
}

func TestController_AutoConflictResolution(t *testing.T) {
	h := newHarness(t, Deps{Detector: excerptDetector{excerpt: "old text", suggestion: "new text"}})
	h.gen.chapterBody = "Mara read the old text twice."
	id := h.submit(t, JobConfig{Chapters: 1, AutoMode: true})

	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := h.state(t, id)
	got := s.WrittenChapters[0].Content
	if strings.Contains(got, "old text") || !strings.Contains(got, "new text") {
		t.Errorf("expected excerpt rewritten, got %q", got)
	}
	if len(s.Conflicts) != 0 {
		t.Errorf("expected conflicts cleared, got %d", len(s.Conflicts))
	}
}

func TestController_RemoteConflictAndManualReview(t *testing.T) {
	h := newHarness(t, Deps{
		Detector: excerptDetector{excerpt: "old text"},
		Rewriter: fixedRewriter{suggestions: []string{"new text"}},
	})
	h.gen.chapterBody = "The old text remained."
	ctx := context.Background()
	id := h.submit(t, JobConfig{Chapters: 1, ManualReview: true})

	status, err := h.ctrl.Run(ctx, id, nil)
	for _, dt := range []DecisionType{DecisionOutline, DecisionWorldview, DecisionCharacters} {
		if err != nil {
			t.Fatalf("run failed before %s: %v", dt, err)
		}
		if status.DecisionType != dt {
			t.Fatalf("expected pause for %s, got %s", dt, status)
		}
		status, err = h.ctrl.Resume(ctx, id, dt, DecisionPayload{SelectedID: "0"}, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	if got := status.String(); got != "paused_for_conflict_review_ch_1" {
		t.Fatalf("expected conflict review pause, got %s", got)
	}

	d, _ := h.ctrl.NextDecision(ctx, id)
	if len(d.Options) != 1 || !strings.HasPrefix(d.Options[0].Summary, "Conflict Type: Plot Contradiction;") {
		t.Fatalf("unexpected conflict options: %+v", d.Options)
	}
	var c Conflict
	if err := json.Unmarshal(d.Options[0].Data, &c); err != nil {
		t.Fatal(err)
	}
	if len(c.Suggestions) != 1 || c.Suggestions[0] != "new text" {
		t.Fatalf("expected rewriter suggestion, got %v", c.Suggestions)
	}

	zero := 0
	status, err = h.ctrl.Resume(ctx, id, DecisionConflict,
		DecisionPayload{Action: ActionApplySuggestion, ConflictID: c.ID, SuggestionIndex: &zero}, nil)
	if err != nil {
		t.Fatalf("conflict resume failed: %v", err)
	}
	if got := status.String(); got != "paused_for_manual_chapter_review_ch_1" {
		t.Fatalf("expected manual review pause, got %s", got)
	}

	if _, err := h.ctrl.ManualReview(ctx, id, 2, ActionUseAsIs, "", nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition for the wrong chapter, got %v", err)
	}
	status, err = h.ctrl.ManualReview(ctx, id, 1, ActionSubmitEdit, "Edited by hand.", nil)
	if err != nil {
		t.Fatalf("ManualReview failed: %v", err)
	}
	if status.Kind != StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	s := h.state(t, id)
	if got := s.WrittenChapters[0].Content; got != "Edited by hand." {
		t.Errorf("expected edited content, got %q", got)
	}
}

func TestController_EmbeddedPrompter(t *testing.T) {
	prompter := &recordingPrompter{}
	h := newHarness(t, Deps{}, WithPrompter(prompter))
	id := h.submit(t, JobConfig{Chapters: 1, InteractionMode: InteractionEmbedded, ManualReview: true})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	want := []DecisionType{DecisionOutline, DecisionWorldview, DecisionCharacters, DecisionManualReview}
	if fmt.Sprint(prompter.types) != fmt.Sprint(want) {
		t.Errorf("expected prompts %v, got %v", want, prompter.types)
	}
}

func TestController_SetupErrorFailsJob(t *testing.T) {
	h := newHarness(t, Deps{})
	h.gen.errs["outline"] = fmt.Errorf("openai: %w", model.ErrMissingCredentials)
	id := h.submit(t, JobConfig{Chapters: 1, AutoMode: true})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Code != "SETUP_ERROR" {
		t.Fatalf("expected SETUP_ERROR node error, got %v", err)
	}
	if status.Kind != StatusFailed {
		t.Errorf("expected failed, got %s", status)
	}
	sum, _ := h.ctrl.Status(context.Background(), id)
	if sum.Status != "failed" || sum.ErrorMessage == "" {
		t.Errorf("expected failed job with error message, got %+v", sum)
	}
	if h.gen.count("outline") != 1 {
		t.Errorf("expected setup error to stop after one call, got %d", h.gen.count("outline"))
	}
}

func TestController_RecoverableDraftFailure(t *testing.T) {
	h := newHarness(t, Deps{})
	h.gen.errs["chapter"] = errors.New("upstream timeout")
	id := h.submit(t, JobConfig{Chapters: 1, AutoMode: true})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted {
		t.Fatalf("expected completion with placeholder chapter, got %s", status)
	}
	s := h.state(t, id)
	if len(s.WrittenChapters) != 1 || !strings.Contains(s.WrittenChapters[0].Title, "Generation Failed") {
		t.Errorf("expected placeholder chapter, got %+v", s.WrittenChapters)
	}
	if s.ErrorMessage == "" {
		t.Error("expected error message recorded in state")
	}
	sum, _ := h.ctrl.Status(context.Background(), id)
	if sum.ErrorMessage != "" {
		t.Errorf("recoverable failures must not set the job error message, got %q", sum.ErrorMessage)
	}
}

func TestController_StalledDraftFallsBack(t *testing.T) {
	gen := stallingGenerator{newScriptedGenerator()}
	h := newHarness(t, Deps{Generator: gen}, WithNodeTimeout(50*time.Millisecond))
	id := h.submit(t, JobConfig{Chapters: 2, AutoMode: true, MaxChapterRetries: Retries(0)})

	status, err := h.ctrl.Run(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Kind != StatusCompleted {
		t.Fatalf("expected completion with placeholder chapters, got %+v", status)
	}
	s := h.state(t, id)
	if len(s.WrittenChapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(s.WrittenChapters))
	}
	for _, ch := range s.WrittenChapters {
		if !strings.Contains(ch.Title, "Generation Failed") {
			t.Errorf("expected placeholder for chapter %d, got %q", ch.Number, ch.Title)
		}
	}
	if got := gen.count("chapter"); got != 2 {
		t.Errorf("expected one stalled draft per chapter, got %d", got)
	}
	sum, _ := h.ctrl.Status(context.Background(), id)
	if sum.ErrorMessage != "" {
		t.Errorf("a stalled draft must not fail the job, got %q", sum.ErrorMessage)
	}
}

func TestController_Export(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 1})
	if _, err := h.ctrl.Run(context.Background(), id, nil); err != nil {
		t.Fatal(err)
	}

	data, err := h.ctrl.Export(context.Background(), id)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	if snap.JobID != id || snap.ResumeNode != NodeSelectOutline {
		t.Errorf("expected job %s resuming at %s, got %s at %s", id, NodeSelectOutline, snap.JobID, snap.ResumeNode)
	}
}

func TestSubmit_InvalidConfig(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.ctrl.Submit(context.Background(), JobConfig{Theme: "x", Chapters: 0})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
