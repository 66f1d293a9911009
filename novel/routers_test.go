package novel

import (
	"testing"

	"github.com/dshills/storygraph/graph"
)

func TestRouteContinuation(t *testing.T) {
	tests := []struct {
		name       string
		current    int
		total      int
		iterations int
		max        int
		want       string
	}{
		{"more chapters to write", 2, 3, 1, 20, LabelContinueLoop},
		{"all chapters written", 4, 3, 3, 20, LabelEndLoop},
		{"done exactly at cap", 4, 3, 3, 3, LabelEndLoop},
		{"cap reached early", 3, 5, 2, 2, LabelEndLoopOnSafety},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{CurrentChapter: tt.current, TotalChapters: tt.total,
				LoopIterationCount: tt.iterations, MaxLoopIterations: tt.max}
			if got := routeContinuation(s); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRouteConflicts(t *testing.T) {
	open := []Conflict{{ID: "a", Status: ConflictOpen}}
	closed := []Conflict{{ID: "a", Status: ConflictIgnored}}

	tests := []struct {
		name      string
		conflicts []Conflict
		auto      bool
		mode      InteractionMode
		want      string
	}{
		{"no conflicts", nil, false, InteractionRemote, LabelProceedIncrement},
		{"only handled conflicts", closed, false, InteractionRemote, LabelProceedIncrement},
		{"auto mode", open, true, InteractionRemote, LabelResolveAuto},
		{"remote review", open, false, InteractionRemote, LabelConflictPending},
		{"embedded logs and continues", open, false, InteractionEmbedded, LabelProceedIncrement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{Conflicts: tt.conflicts, Config: JobConfig{AutoMode: tt.auto, InteractionMode: tt.mode}}
			if got := routeConflicts(s); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRoutePlanMutationAndTwist(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		router func(State) string
		want   string
	}{
		{
			name:   "branch due",
			state:  State{CurrentChapter: 2, TotalChapters: 4, Config: JobConfig{BranchAtChapter: 2}},
			router: routePlanMutation,
			want:   LabelOfferBranch,
		},
		{
			name:   "branch handled",
			state:  State{CurrentChapter: 2, TotalChapters: 4, BranchHandled: true, Config: JobConfig{BranchAtChapter: 2}},
			router: routePlanMutation,
			want:   LabelSkipRegeneration,
		},
		{
			name:   "regeneration pending",
			state:  State{CurrentChapter: 3, TotalChapters: 4, NeedsPlotRegeneration: true},
			router: routePlanMutation,
			want:   LabelRegeneratePlot,
		},
		{
			name:   "twist after chapter",
			state:  State{CurrentChapter: 3, TotalChapters: 4, Config: JobConfig{TwistAtChapter: 2}},
			router: routeTwist,
			want:   LabelOfferTwist,
		},
		{
			name:   "twist at last chapter",
			state:  State{CurrentChapter: 5, TotalChapters: 4, Config: JobConfig{TwistAtChapter: 4}},
			router: routeTwist,
			want:   LabelSkipTwist,
		},
		{
			name:   "twist handled",
			state:  State{CurrentChapter: 3, TotalChapters: 4, TwistHandled: true, Config: JobConfig{TwistAtChapter: 2}},
			router: routeTwist,
			want:   LabelSkipTwist,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.router(tt.state); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRouteReviewGate(t *testing.T) {
	tests := []struct {
		manual, auto bool
		want         string
	}{
		{false, false, LabelProceedIncrement},
		{true, false, LabelManualReview},
		{true, true, LabelProceedIncrement},
	}
	for _, tt := range tests {
		s := State{Config: JobConfig{ManualReview: tt.manual, AutoMode: tt.auto}}
		if got := routeReviewGate(s); got != tt.want {
			t.Errorf("manual=%v auto=%v: expected %s, got %s", tt.manual, tt.auto, tt.want, got)
		}
	}
}

func TestEdgeTable(t *testing.T) {
	edges := EdgeTable()
	seen := make(map[string]bool)
	for _, e := range edges {
		key := e.From + "|" + e.Label
		if seen[key] {
			t.Errorf("duplicate edge %s --%s-->", e.From, e.Label)
		}
		seen[key] = true
	}

	// Every selection point can pause to the end of the run.
	for _, from := range []string{NodeSelectOutline, NodeSelectWorldview, NodeSelectCharacters,
		NodeApplyPlotBranch, NodeApplyPlotTwist, NodePrepareConflictReview, NodePrepareManualReview} {
		if !seen[from+"|"+LabelPaused] {
			t.Errorf("%s has no paused edge", from)
		}
	}

	edges[0].To = "mutated"
	if EdgeTable()[0].To == "mutated" {
		t.Error("EdgeTable must return a copy")
	}

	if _, err := buildEngine(testPipeline(Deps{}), nil, nil, graph.WithMaxSteps(100)); err != nil {
		t.Fatalf("buildEngine failed: %v", err)
	}
}
