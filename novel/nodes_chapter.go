package novel

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel/parse"
)

// contextSnippets is how many knowledge base documents a chapter brief or
// conflict check retrieves.
const contextSnippets = 5

// synthesizeChapterContext writes the brief the draft node hands to the
// novelist. On a retry the previous draft and the reviewer's rationale are
// appended as corrective feedback.
func (p *pipeline) synthesizeChapterContext(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	entry := s.PlanFor(n)

	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\nPlan: %s\n", n, entry.Title, entry.Summary)
	if entry.KeyEvents != "" {
		fmt.Fprintf(&b, "Key events: %s\n", entry.KeyEvents)
	}
	if len(entry.Characters) > 0 {
		fmt.Fprintf(&b, "Characters present: %s\n", strings.Join(entry.Characters, ", "))
	}
	if entry.Hook != "" {
		fmt.Fprintf(&b, "End on: %s\n", entry.Hook)
	}
	if len(s.SelectedCharacters) > 0 {
		fmt.Fprintf(&b, "\nCast:\n%s\n", parse.CastSummary(s.SelectedCharacters))
	}
	fmt.Fprintf(&b, "\nStory so far:\n%s\n", storySoFar(&s, n))

	snippets, err := p.deps.Knowledge.Retrieve(ctx, s.JobID, entry.Title+" "+entry.Summary, contextSnippets)
	if err != nil {
		s.logf("Knowledge base retrieval failed for chapter %d: %v", n, err)
	} else if len(snippets) > 0 {
		b.WriteString("\nEstablished facts:\n")
		for _, sn := range snippets {
			fmt.Fprintf(&b, "- %s\n", excerpt(sn.Text, 400))
		}
	}

	if s.RetryRequested {
		fmt.Fprintf(&b, "\nThe previous draft of this chapter was rejected.\nReviewer feedback: %s\nPrevious draft (excerpt):\n%s\n",
			s.RetryFeedback, excerpt(s.OriginalContentBeforeRetry, 1500))
	}

	s.ChapterBrief = strings.TrimSpace(b.String())
	s.logf("Prepared context for chapter %d.", n)
	return graph.NodeResult[State]{Delta: s}
}

// draftChapter writes the current chapter. A failed call leaves an empty
// placeholder chapter, which the quality gate scores as 0.
func (p *pipeline) draftChapter(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	raw, err := p.generate(ctx, &s, NodeDraftChapter, buildChapterPrompt(&s))
	if err != nil {
		if fatal(err) {
			return p.fail(NodeDraftChapter, err)
		}
		s.putChapter(Chapter{Number: n, Title: fmt.Sprintf("Chapter %d (Generation Failed)", n)})
		return graph.NodeResult[State]{Delta: s}
	}

	res := parse.Chapter(raw, n)
	if res.Degraded() {
		s.logf("Chapter %d parsed with %s strategy: %v", n, res.Strategy, res.Err)
	}
	s.putChapter(Chapter{
		Number:  n,
		Title:   res.Value.Title,
		Content: res.Value.Content,
		Summary: res.Value.Summary,
		Parse:   res.Strategy,
	})
	s.logf("Drafted chapter %d: %s (attempt %d).", n, res.Value.Title, s.ChapterRetryCount+1)
	return graph.NodeResult[State]{Delta: s}
}

// scoreChapterQuality scores the draft and decides whether to retry it.
// A retry needs auto mode, a score below threshold and retries left;
// otherwise the draft is accepted whatever its score.
func (p *pipeline) scoreChapterQuality(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	ch := s.Chapter(n)
	report := QualityReport{Chapter: n}

	switch {
	case ch == nil || strings.TrimSpace(ch.Content) == "":
		report.Rationale = "Chapter content is empty; nothing to score."
	default:
		sc, err := p.deps.Scorer.Score(ctx, ch.Content)
		if err != nil {
			if fatal(err) {
				return p.fail(NodeScoreChapter, err)
			}
			s.ErrorMessage = fmt.Sprintf("%s: %v", NodeScoreChapter, err)
			report.Rationale = fmt.Sprintf("Scoring failed: %v", err)
		} else {
			report.Dimensions = sc.Dimensions
			report.Overall = sc.Overall
			report.Rationale = sc.Rationale
		}
	}
	if ch != nil {
		ch.Score = report.Overall
	}
	s.LastQuality = &report

	threshold := s.Config.QualityThreshold
	s.logf("Chapter %d scored %.1f (threshold %.1f).", n, report.Overall, threshold)

	retry := false
	if s.Config.AutoMode && s.ChapterRetryCount < s.MaxChapterRetries {
		score := report.Overall
		retry = score < threshold
		options := []DecisionOption{{ID: LabelProceed}, {ID: LabelRetryChapter}}
		op := ">="
		if retry {
			options[0], options[1] = options[1], options[0]
			op = "<"
		}
		// The gate's own verdict is the first option; a policy may
		// override it by picking the other.
		if choice, ok := PolicyFrom(ctx).Decide(options, DecisionContext{
			Type:      "quality_gate",
			Chapter:   n,
			Mode:      ModeScoreThreshold,
			Score:     &score,
			Threshold: &threshold,
			Operator:  op,
		}); ok {
			retry = choice.ID == LabelRetryChapter
		}
	}

	if retry {
		s.ChapterRetryCount++
		s.RetryRequested = true
		s.RetryFeedback = report.Rationale
		if ch != nil {
			s.OriginalContentBeforeRetry = ch.Content
		}
		p.metrics.IncrementChapterRetries()
		s.logf("Chapter %d is below the quality threshold; retrying (attempt %d of %d).",
			n, s.ChapterRetryCount+1, s.MaxChapterRetries+1)
		return graph.NodeResult[State]{Delta: s}
	}

	if report.Overall < threshold {
		s.logf("Chapter %d accepted below the quality threshold.", n)
	} else {
		s.logf("Chapter %d accepted.", n)
	}
	s.ChapterRetryCount = 0
	s.RetryRequested = false
	s.RetryFeedback = ""
	s.OriginalContentBeforeRetry = ""
	return graph.NodeResult[State]{Delta: s}
}

// reviewGate only hosts the manual review router.
func (p *pipeline) reviewGate(_ context.Context, s State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: s}
}

// prepareManualReview pauses so a person can accept or replace the
// chapter, then applies their answer.
func (p *pipeline) prepareManualReview(_ context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	ch := s.Chapter(n)

	if pl := s.DecisionPayload; pl != nil && pl.Type == DecisionManualReview {
		s.DecisionPayload = nil
		if pl.Action == ActionSubmitEdit && ch != nil && strings.TrimSpace(pl.EditedContent) != "" {
			ch.Content = pl.EditedContent
			s.logf("Chapter %d replaced by reviewer edit.", n)
		} else {
			s.logf("Chapter %d accepted by reviewer as is.", n)
		}
		return graph.NodeResult[State]{Delta: s}
	}

	var data []byte
	if ch != nil {
		data = mustJSON(ch)
	}
	options := []DecisionOption{
		{ID: ActionUseAsIs, Summary: "Keep the chapter as written.", Data: data},
		{ID: ActionSubmitEdit, Summary: "Replace the chapter content with an edited version."},
	}
	p.pause(&s, NodePrepareManualReview, DecisionManualReview, n,
		fmt.Sprintf("Review chapter %d and keep it or submit an edit.", n), options)
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) updateKnowledgeBase(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	if ch := s.Chapter(n); ch != nil {
		doc := knowledge.Document{
			Kind:    knowledge.KindChapter,
			Chapter: n,
			Text:    fmt.Sprintf("Chapter %d: %s\n%s\n%s", n, ch.Title, ch.Summary, ch.Content),
		}
		if err := p.deps.Knowledge.Add(ctx, s.JobID, doc); err != nil {
			s.logf("Knowledge base update failed for chapter %d: %v", n, err)
			p.logger.Warn("knowledge base update failed", "job_id", s.JobID, "chapter", n, "error", err)
		} else {
			s.logf("Added chapter %d to the knowledge base.", n)
		}
	}
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) advanceChapter(_ context.Context, s State) graph.NodeResult[State] {
	s.CurrentChapter++
	s.LoopIterationCount++
	s.Conflicts = nil
	s.LastQuality = nil
	s.ChapterBrief = ""
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) finalize(_ context.Context, s State) graph.NodeResult[State] {
	s.Status = Completed()
	if s.CurrentChapter <= s.TotalChapters {
		s.Status.Reason = ReasonLoopSafetyCap
		s.logf("Loop iteration cap of %d reached before chapter %d; finishing with %d written chapters.",
			s.MaxLoopIterations, s.CurrentChapter, len(s.WrittenChapters))
		p.metrics.IncrementSafetyStops()
	} else {
		s.logf("All %d chapters written.", s.TotalChapters)
	}
	return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
}
