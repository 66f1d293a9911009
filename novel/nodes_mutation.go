package novel

import (
	"context"
	"fmt"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/novel/parse"
)

// planMutationCheck runs before every chapter. It hosts the branch offer
// and the plot regeneration gate; routePlanMutation picks the path.
func (p *pipeline) planMutationCheck(_ context.Context, s State) graph.NodeResult[State] {
	switch {
	case branchDue(s):
		s.logf("Offering plot branch options before chapter %d.", s.CurrentChapter)
	case s.NeedsPlotRegeneration:
		s.logf("Plot regeneration is needed. Modified at chapter %d, starting regeneration from chapter %d.",
			s.PlotModifiedAt, s.RegenerationStart)
	default:
		s.logf("Plot regeneration is not needed. Proceeding with current plot.")
	}
	return graph.NodeResult[State]{Delta: s}
}

// branchSpan returns the first chapter and length of the branch offered
// at the current chapter.
func branchSpan(s *State) (int, int) {
	k := s.CurrentChapter
	length := s.Config.BranchLength
	if k+length-1 > s.TotalChapters {
		length = s.TotalChapters - k + 1
	}
	return k, length
}

func (p *pipeline) generateBranchOptions(ctx context.Context, s State) graph.NodeResult[State] {
	k, length := branchSpan(&s)
	raw, err := p.generate(ctx, &s, NodeGenerateBranchOptions, buildBranchPrompt(&s, k, length))
	if err != nil && fatal(err) {
		return p.fail(NodeGenerateBranchOptions, err)
	}

	res := parse.BranchOptions(raw, k, length)
	branches := res.Value
	if len(branches) > s.Config.OptionCount {
		branches = branches[:s.Config.OptionCount]
	}
	s.BranchOptions = branches
	if len(branches) == 0 {
		s.BranchHandled = true
		s.logf("No plot branch options generated; continuing with the current plan.")
	} else {
		if res.Degraded() {
			s.logf("Plot branch options parsed with %s strategy: %v", res.Strategy, res.Err)
		}
		s.logf("Generated %d plot branch options for chapters %d-%d.", len(branches), k, k+length-1)
	}
	return graph.NodeResult[State]{Delta: s}
}

// applyPlotBranch splices the chosen branch into the plan and flags the
// chapters after it for regeneration.
func (p *pipeline) applyPlotBranch(ctx context.Context, s State) graph.NodeResult[State] {
	if len(s.BranchOptions) == 0 {
		s.BranchHandled = true
		return graph.NodeResult[State]{Delta: s}
	}

	k, _ := branchSpan(&s)
	options := indexedOptions(s.BranchOptions, func(b Branch) string { return b.Theme })
	opt, ok := p.choose(ctx, &s, NodeApplyPlotBranch, DecisionPlotBranch, k,
		fmt.Sprintf("Choose a direction for the story from chapter %d.", k), options)
	if !ok {
		return graph.NodeResult[State]{Delta: s}
	}
	i, valid := indexOf(opt, len(s.BranchOptions))
	if !valid {
		s.BranchHandled = true
		return graph.NodeResult[State]{Delta: s}
	}

	branch := s.BranchOptions[i]
	spliced := 0
	for j, e := range branch.Chapters {
		n := k + j
		if n > s.TotalChapters {
			break
		}
		e.Number = n
		s.putPlanEntry(e)
		spliced++
	}

	s.SelectedBranch = &branch
	s.BranchHandled = true
	s.PlotModifiedAt = k
	s.RegenerationStart = k + spliced
	s.NeedsPlotRegeneration = true
	s.logf("Plot branch %q applied to chapters %d-%d. Flagging for plot regeneration starting from chapter %d.",
		branch.Theme, k, k+spliced-1, s.RegenerationStart)
	return graph.NodeResult[State]{Delta: s}
}

// twistCheck only hosts the twist router.
func (p *pipeline) twistCheck(_ context.Context, s State) graph.NodeResult[State] {
	if twistDue(s) {
		s.logf("Offering plot twist options after chapter %d.", s.Config.TwistAtChapter)
	}
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) generateTwistOptions(ctx context.Context, s State) graph.NodeResult[State] {
	k := s.Config.TwistAtChapter
	raw, err := p.generate(ctx, &s, NodeGenerateTwistOptions, buildTwistPrompt(&s, k))
	if err != nil && fatal(err) {
		return p.fail(NodeGenerateTwistOptions, err)
	}

	res := parse.TwistOptions(raw)
	twists := res.Value
	if len(twists) > s.Config.OptionCount {
		twists = twists[:s.Config.OptionCount]
	}
	s.TwistOptions = twists
	if len(twists) == 0 {
		s.TwistHandled = true
		s.logf("No plot twist options generated; continuing with the current plan.")
	} else {
		s.logf("Generated %d plot twist options after chapter %d.", len(twists), k)
	}
	return graph.NodeResult[State]{Delta: s}
}

// applyPlotTwist records the chosen twist. The twist steers the
// regeneration of the chapters after it; the written chapters and their
// plan entries stay as they are.
func (p *pipeline) applyPlotTwist(ctx context.Context, s State) graph.NodeResult[State] {
	if len(s.TwistOptions) == 0 {
		s.TwistHandled = true
		return graph.NodeResult[State]{Delta: s}
	}

	k := s.Config.TwistAtChapter
	options := indexedOptions(s.TwistOptions, func(t Twist) string {
		return t.Title + ": " + excerpt(t.Summary, 200)
	})
	opt, ok := p.choose(ctx, &s, NodeApplyPlotTwist, DecisionPlotTwist, k,
		fmt.Sprintf("Choose a plot twist to follow chapter %d.", k), options)
	if !ok {
		return graph.NodeResult[State]{Delta: s}
	}
	i, valid := indexOf(opt, len(s.TwistOptions))
	if !valid {
		s.TwistHandled = true
		return graph.NodeResult[State]{Delta: s}
	}

	twist := s.TwistOptions[i]
	s.SelectedTwist = &twist
	s.TwistHandled = true
	s.PlotModifiedAt = k
	s.RegenerationStart = k + 1
	s.NeedsPlotRegeneration = true
	s.logf("Plot twist applied to chapter %d. Flagging for plot regeneration starting from chapter %d.", k, k+1)
	return graph.NodeResult[State]{Delta: s}
}

// regeneratePlotSegment re-plans chapters RegenerationStart..TotalChapters
// from the entries before them and discards prose written for the
// replaced chapters. Entries and chapters before the start are never
// touched.
func (p *pipeline) regeneratePlotSegment(ctx context.Context, s State) graph.NodeResult[State] {
	start, total := s.RegenerationStart, s.TotalChapters
	if start < 1 {
		start = 1
	}
	s.NeedsPlotRegeneration = false

	if start > total {
		var kept []PlanEntry
		for _, e := range s.ChapterPlan {
			if e.Number <= total {
				kept = append(kept, e)
			}
		}
		s.ChapterPlan = kept
		s.discardChaptersFrom(start)
		s.CurrentChapter = min(s.CurrentChapter, start)
		s.logf("Regeneration start chapter %d is beyond desired total chapters %d. Plot will be truncated.", start, total)
		return graph.NodeResult[State]{Delta: s}
	}

	kept := s.planBefore(start)
	raw, err := p.generate(ctx, &s, NodeRegeneratePlotSegment, buildRegenPrompt(&s, start, kept))
	if err != nil {
		if fatal(err) {
			return p.fail(NodeRegeneratePlotSegment, err)
		}
		s.logf("Plot regeneration failed; keeping the current plan from chapter %d.", start)
		return graph.NodeResult[State]{Delta: s}
	}

	res := parse.Plan(raw, start, total-start+1)
	if res.Degraded() {
		s.logf("Regenerated plan parsed with %s strategy: %v", res.Strategy, res.Err)
	}
	s.ChapterPlan = append(kept, res.Value...)
	discarded := s.discardChaptersFrom(start)
	s.CurrentChapter = min(s.CurrentChapter, start)
	s.logf("Plot regenerated. Content generation will resume/restart from chapter %d. %d previously generated chapter contents (from chapter %d onwards) were discarded.",
		start, discarded, start)

	if err := p.deps.Knowledge.Add(ctx, s.JobID, planDocuments(res.Value)...); err != nil {
		s.logf("Knowledge base update failed for regenerated plan: %v", err)
	}
	return graph.NodeResult[State]{Delta: s}
}
