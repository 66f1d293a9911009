package novel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/storygraph/graph/store"
	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel/parse"
)

var (
	planCountRe  = regexp.MustCompile(`Plan a novel of exactly (\d+) chapters`)
	regenRangeRe = regexp.MustCompile(`Re-plan chapters (\d+) to (\d+)`)
	chapterNumRe = regexp.MustCompile(`writing chapter (\d+) of`)
	branchSpanRe = regexp.MustCompile(`each covering chapters (\d+) to (\d+)`)
)

// scriptedGenerator answers each prompt kind with canned, well-formed text.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error

	// chapterBody is appended to every chapter's content.
	chapterBody string
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{calls: make(map[string]int), errs: make(map[string]error)}
}

func promptKind(prompt string) string {
	kinds := []struct{ prefix, kind string }{
		{"You are a creative novel planner.", "outline"},
		{"You are a world builder.", "worldview"},
		{"You are a master storyteller and plot architect.", "plot"},
		{"You are a character designer.", "characters"},
		{"You are a novelist writing chapter", "chapter"},
		{"You are a plot twist specialist.", "twist"},
		{"You are a narrative branching designer.", "branch"},
		{"You are a plot regeneration specialist.", "regen"},
	}
	for _, k := range kinds {
		if strings.HasPrefix(prompt, k.prefix) {
			return k.kind
		}
	}
	return "unknown"
}

func (g *scriptedGenerator) count(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[kind]
}

func (g *scriptedGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	kind := promptKind(prompt)

	g.mu.Lock()
	g.calls[kind]++
	n := g.calls[kind]
	err := g.errs[kind]
	g.mu.Unlock()
	if err != nil {
		return "", err
	}

	switch kind {
	case "outline":
		return fmt.Sprintf("Outline %d: a lighthouse keeper uncovers a drowned archive.", n), nil
	case "worldview":
		return fmt.Sprintf("World %d: a coast of flooded towns lit by signal fires.", n), nil
	case "plot":
		total := atoiMatch(planCountRe, prompt, 1)
		return planText(1, total, "Planned"), nil
	case "characters":
		return "BEGIN CHARACTER SET:\nCharacter 1:\nName: Mara\nDescription: A keeper.\nRole: Protagonist\nEND CHARACTER SET.\n" +
			"BEGIN CHARACTER SET:\nCharacter 1:\nName: Ilo\nDescription: A diver.\nRole: Protagonist\nEND CHARACTER SET.", nil
	case "chapter":
		ch := atoiMatch(chapterNumRe, prompt, 1)
		return fmt.Sprintf("Title: Tide %d\nContent: The tide rose over chapter %d. %s\nSummary: Chapter %d happened.",
			ch, ch, g.chapterBody, ch), nil
	case "twist":
		return "BEGIN PLOT TWIST OPTION:\nTitle: The keeper lied\nCore_Scene_Summary: Mara flooded the archive herself.\nEND PLOT TWIST OPTION.\n" +
			"BEGIN PLOT TWIST OPTION:\nTitle: The sea recedes\nCore_Scene_Summary: The water vanishes overnight.\nEND PLOT TWIST OPTION.", nil
	case "branch":
		m := branchSpanRe.FindStringSubmatch(prompt)
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		var b strings.Builder
		b.WriteString("BEGIN PLOT BRANCH OPTION:\nBranch_Theme: Into the deep\n")
		for c := start; c <= end; c++ {
			fmt.Fprintf(&b, "Chapter_Number: %d\nTitle: Deep %d\nCore_Scene_Summary: Diving further.\n", c, c)
		}
		b.WriteString("END PLOT BRANCH OPTION.")
		return b.String(), nil
	case "regen":
		m := regenRangeRe.FindStringSubmatch(prompt)
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		return planText(start, end, "Regenerated"), nil
	}
	return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
}

// stallingGenerator blocks chapter prompts until the context ends and
// answers every other prompt like the scripted generator.
type stallingGenerator struct {
	*scriptedGenerator
}

func (g stallingGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	if promptKind(prompt) == "chapter" {
		g.mu.Lock()
		g.calls["chapter"]++
		g.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.scriptedGenerator.GenerateText(ctx, prompt)
}

func atoiMatch(re *regexp.Regexp, s string, def int) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return def
	}
	return n
}

func planText(start, end int, prefix string) string {
	var b strings.Builder
	for n := start; n <= end; n++ {
		fmt.Fprintf(&b, "BEGIN CHAPTER %d:\nTitle: %s %d\nCore_Scene_Summary: Events of chapter %d.\nCharacters_Present: Mara\nEND CHAPTER %d:\n",
			n, prefix, n, n, n)
	}
	return b.String()
}

// scriptedScorer returns scores in order; the last one repeats.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
	err    error
}

func (s *scriptedScorer) Score(_ context.Context, content string) (parse.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return parse.Score{}, s.err
	}
	score := 8.0
	if len(s.scores) > 0 {
		i := s.calls - 1
		if i >= len(s.scores) {
			i = len(s.scores) - 1
		}
		score = s.scores[i]
	}
	return parse.Score{Overall: score, Rationale: fmt.Sprintf("scored %.1f", score)}, nil
}

// excerptDetector flags every chapter containing excerpt.
type excerptDetector struct {
	excerpt    string
	suggestion string
}

func (d excerptDetector) Detect(_ context.Context, content string, _ []knowledge.Snippet) ([]parse.Finding, error) {
	if !strings.Contains(content, d.excerpt) {
		return nil, nil
	}
	return []parse.Finding{{
		Type:        "Plot Contradiction",
		Description: "contradicts an earlier chapter",
		Severity:    "High",
		Excerpt:     d.excerpt,
		Suggestion:  d.suggestion,
	}}, nil
}

type fixedRewriter struct {
	suggestions []string
}

func (r fixedRewriter) Rewrite(context.Context, string, string, string) ([]string, error) {
	return r.suggestions, nil
}

// recordingPrompter always picks the first option and keeps the decision
// types it was asked about.
type recordingPrompter struct {
	mu    sync.Mutex
	types []DecisionType
}

func (p *recordingPrompter) Prompt(_ context.Context, d PendingDecision) (DecisionPayload, error) {
	p.mu.Lock()
	p.types = append(p.types, d.Type)
	p.mu.Unlock()
	switch d.Type {
	case DecisionManualReview:
		return DecisionPayload{Action: ActionUseAsIs}, nil
	case DecisionConflict:
		return DecisionPayload{Action: ActionProceedRemaining}, nil
	}
	return DecisionPayload{SelectedID: d.Options[0].ID}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ctrl  *Controller
	store *store.MemStore[State]
	gen   *scriptedGenerator
	score *scriptedScorer
	kb    *knowledge.MemoryBase
}

func newHarness(t *testing.T, deps Deps, opts ...ControllerOption) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemStore[State](),
		gen:   newScriptedGenerator(),
		score: &scriptedScorer{},
		kb:    knowledge.NewMemoryBase(),
	}
	if deps.Generator == nil {
		deps.Generator = h.gen
	}
	if deps.Scorer == nil {
		deps.Scorer = h.score
	}
	if deps.Knowledge == nil {
		deps.Knowledge = h.kb
	}
	opts = append([]ControllerOption{WithLogger(quietLogger())}, opts...)
	ctrl, err := NewController(deps, h.store, opts...)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) submit(t *testing.T, cfg JobConfig) string {
	t.Helper()
	if cfg.Theme == "" {
		cfg.Theme = "memory and the sea"
	}
	id, err := h.ctrl.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return id
}

func (h *harness) state(t *testing.T, id string) State {
	t.Helper()
	s, err := h.ctrl.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job(%s) failed: %v", id, err)
	}
	return s
}

// testState is a state positioned in the chapter loop.
func testState(total int) State {
	cfg := JobConfig{Theme: "t", Chapters: total}
	cfg.Normalize()
	s := NewState("job-1", cfg)
	for n := 1; n <= total; n++ {
		s.ChapterPlan = append(s.ChapterPlan, PlanEntry{Number: n, Title: fmt.Sprintf("Plan %d", n), Summary: "s"})
	}
	s.Status = Running()
	return s
}

func testPipeline(deps Deps) *pipeline {
	if deps.Knowledge == nil {
		deps.Knowledge = knowledge.NewMemoryBase()
	}
	return &pipeline{deps: deps, logger: quietLogger()}
}
