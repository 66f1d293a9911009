package novel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/storygraph/graph"
)

// detectConflicts checks the accepted draft against the knowledge base.
// A failed check is logged and treated as no findings.
func (p *pipeline) detectConflicts(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	s.Conflicts = nil

	ch := s.Chapter(n)
	if p.deps.Detector == nil || ch == nil || strings.TrimSpace(ch.Content) == "" {
		return graph.NodeResult[State]{Delta: s}
	}

	query := ch.Summary
	if query == "" {
		query = excerpt(ch.Content, 500)
	}
	facts, err := p.deps.Knowledge.Retrieve(ctx, s.JobID, query, contextSnippets)
	if err != nil {
		s.logf("Knowledge base retrieval failed for conflict check: %v", err)
	}

	findings, err := p.deps.Detector.Detect(ctx, ch.Content, facts)
	if err != nil {
		if fatal(err) {
			return p.fail(NodeDetectConflicts, err)
		}
		s.ErrorMessage = fmt.Sprintf("%s: %v", NodeDetectConflicts, err)
		s.logf("Conflict detection failed for chapter %d: %v", n, err)
		return graph.NodeResult[State]{Delta: s}
	}

	for _, f := range findings {
		c := Conflict{
			ID:          uuid.NewString(),
			Type:        f.Type,
			Description: f.Description,
			Severity:    f.Severity,
			Chapter:     n,
			Excerpt:     f.Excerpt,
			Status:      ConflictOpen,
		}
		if f.Suggestion != "" {
			c.Suggestions = []string{f.Suggestion}
		}
		s.Conflicts = append(s.Conflicts, c)
	}

	switch {
	case len(s.Conflicts) == 0:
		s.logf("No conflicts found in chapter %d.", n)
	case !s.Config.AutoMode && s.Config.InteractionMode == InteractionEmbedded:
		s.logf("Detected %d potential conflicts in chapter %d; logged for review, continuing.", len(s.Conflicts), n)
		for _, c := range s.Conflicts {
			s.logf("Conflict (%s, %s): %s", c.Type, c.Severity, c.Description)
		}
	default:
		s.logf("Detected %d potential conflicts in chapter %d.", len(s.Conflicts), n)
	}
	return graph.NodeResult[State]{Delta: s}
}

// autoResolveConflicts rewrites every flagged excerpt once and clears the
// conflict list. Excerpts that can no longer be found verbatim are left
// alone.
func (p *pipeline) autoResolveConflicts(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	ch := s.Chapter(n)
	total := s.openConflicts()
	resolved := 0

	for i := range s.Conflicts {
		c := &s.Conflicts[i]
		if c.Status != ConflictOpen || ch == nil {
			continue
		}
		if len(c.Suggestions) == 0 {
			c.Suggestions = p.suggest(ctx, &s, c, ch.Content)
		}
		if len(c.Suggestions) == 0 {
			s.logf("Conflict %s left unchanged: no rewrite available.", c.ID)
			continue
		}
		if replaceOnce(ch, c.Excerpt, c.Suggestions[0]) {
			c.Status = ConflictResolved
			resolved++
			s.logf("Conflict %s resolved by rewrite.", c.ID)
		} else {
			s.logf("Conflict %s left unchanged: excerpt no longer found in chapter %d.", c.ID, n)
		}
	}

	s.logf("Auto-resolved %d of %d conflicts in chapter %d.", resolved, total, n)
	s.Conflicts = nil
	return graph.NodeResult[State]{Delta: s}
}

// prepareConflictReview applies a reviewer's action, then pauses again
// while conflicts remain open.
func (p *pipeline) prepareConflictReview(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.CurrentChapter
	ch := s.Chapter(n)

	if pl := s.DecisionPayload; pl != nil && pl.Type == DecisionConflict {
		s.DecisionPayload = nil
		p.applyConflictAction(ctx, &s, ch, *pl)
	}

	if ch != nil {
		for i := range s.Conflicts {
			c := &s.Conflicts[i]
			if c.Status == ConflictOpen && len(c.Suggestions) == 0 {
				c.Suggestions = p.suggest(ctx, &s, c, ch.Content)
			}
		}
	}

	open := s.openConflicts()
	if open == 0 {
		s.logf("All conflicts in chapter %d resolved.", n)
		s.Conflicts = nil
		return graph.NodeResult[State]{Delta: s}
	}

	options := make([]DecisionOption, 0, open)
	for _, c := range s.Conflicts {
		if c.Status != ConflictOpen {
			continue
		}
		options = append(options, DecisionOption{
			ID:      c.ID,
			Summary: fmt.Sprintf("Conflict Type: %s; Severity: %s; Description: %s", c.Type, c.Severity, c.Description),
			Data:    mustJSON(c),
		})
	}
	p.pause(&s, NodePrepareConflictReview, DecisionConflict, n,
		fmt.Sprintf("Chapter %d has %d unresolved conflicts. Apply a suggestion, ignore a conflict, or request a rewrite of all.", n, open),
		options)
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) applyConflictAction(ctx context.Context, s *State, ch *Chapter, pl DecisionPayload) {
	action := pl.Action
	if alias, ok := actionAliases[action]; ok {
		action = alias
	}

	switch action {
	case ActionApplySuggestion:
		c := s.conflict(pl.ConflictID)
		if c == nil || c.Status != ConflictOpen || ch == nil {
			s.logf("Conflict %s is not open; nothing applied.", pl.ConflictID)
			return
		}
		idx := 0
		if pl.SuggestionIndex != nil {
			idx = *pl.SuggestionIndex
		}
		if idx < 0 || idx >= len(c.Suggestions) {
			s.logf("Conflict %s has no suggestion %d; it remains open.", c.ID, idx)
			return
		}
		if replaceOnce(ch, c.Excerpt, c.Suggestions[idx]) {
			c.Status = ConflictResolved
			s.logf("Applied suggestion %d to conflict %s.", idx, c.ID)
		} else {
			s.logf("Excerpt of conflict %s no longer found in chapter %d; it remains open.", c.ID, ch.Number)
		}

	case ActionIgnore:
		c := s.conflict(pl.ConflictID)
		if c == nil || c.Status != ConflictOpen {
			s.logf("Conflict %s is not open; nothing ignored.", pl.ConflictID)
			return
		}
		c.Status = ConflictIgnored
		s.logf("Conflict %s ignored.", c.ID)

	case ActionRewriteAll:
		if ch == nil {
			return
		}
		fixed := 0
		for i := range s.Conflicts {
			c := &s.Conflicts[i]
			if c.Status != ConflictOpen {
				continue
			}
			suggestions := p.suggest(ctx, s, c, ch.Content)
			if len(suggestions) == 0 {
				continue
			}
			c.Suggestions = append(suggestions, c.Suggestions...)
			if replaceOnce(ch, c.Excerpt, suggestions[0]) {
				c.Status = ConflictResolved
				fixed++
			}
		}
		s.logf("Rewrite pass resolved %d conflicts in chapter %d.", fixed, ch.Number)

	case ActionProceedRemaining:
		for i := range s.Conflicts {
			if s.Conflicts[i].Status == ConflictOpen {
				s.Conflicts[i].Status = ConflictIgnored
			}
		}
		s.logf("Remaining conflicts ignored.")

	default:
		s.logf("Unknown conflict action %q ignored.", pl.Action)
	}
}

// suggest asks the rewriter for replacements of a conflict's excerpt.
func (p *pipeline) suggest(ctx context.Context, s *State, c *Conflict, content string) []string {
	if p.deps.Rewriter == nil || c.Excerpt == "" {
		return nil
	}
	out, err := p.deps.Rewriter.Rewrite(ctx, c.Excerpt, c.Description, content)
	if err != nil {
		s.logf("Rewrite suggestion failed for conflict %s: %v", c.ID, err)
		return nil
	}
	var suggestions []string
	for _, sug := range out {
		if sug = strings.TrimSpace(sug); sug != "" {
			suggestions = append(suggestions, sug)
		}
	}
	return suggestions
}

// replaceOnce substitutes the first verbatim occurrence of excerpt.
func replaceOnce(ch *Chapter, excerpt, replacement string) bool {
	if excerpt == "" || !strings.Contains(ch.Content, excerpt) {
		return false
	}
	ch.Content = strings.Replace(ch.Content, excerpt, replacement, 1)
	return true
}
