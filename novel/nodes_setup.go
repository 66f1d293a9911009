package novel

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel/parse"
)

func (p *pipeline) generateOutlineOptions(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.Config.OptionCount
	var options []string
	for i := 1; i <= n; i++ {
		text, err := p.generate(ctx, &s, NodeGenerateOutlineOptions, buildOutlinePrompt(s.Config, i, n))
		if err != nil {
			if fatal(err) {
				return p.fail(NodeGenerateOutlineOptions, err)
			}
			continue
		}
		options = append(options, text)
	}
	if len(options) == 0 {
		return p.fail(NodeGenerateOutlineOptions, fmt.Errorf("no outline options generated: %s", s.ErrorMessage))
	}

	s.OutlineOptions = options
	s.logf("Generated %d outline options.", len(options))
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) selectOutline(ctx context.Context, s State) graph.NodeResult[State] {
	options := indexedOptions(s.OutlineOptions, func(o string) string { return excerpt(o, 200) })
	opt, ok := p.choose(ctx, &s, NodeSelectOutline, DecisionOutline, 0,
		"Choose the outline the novel will follow.", options)
	if ok {
		if i, valid := indexOf(opt, len(s.OutlineOptions)); valid {
			s.SelectedOutline = s.OutlineOptions[i]
		}
	}
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) generateWorldviewOptions(ctx context.Context, s State) graph.NodeResult[State] {
	n := s.Config.OptionCount
	var options []string
	for i := 1; i <= n; i++ {
		text, err := p.generate(ctx, &s, NodeGenerateWorldviewOptions, buildWorldviewPrompt(&s, i, n))
		if err != nil {
			if fatal(err) {
				return p.fail(NodeGenerateWorldviewOptions, err)
			}
			continue
		}
		options = append(options, text)
	}
	if len(options) == 0 {
		return p.fail(NodeGenerateWorldviewOptions, fmt.Errorf("no worldview options generated: %s", s.ErrorMessage))
	}

	s.WorldviewOptions = options
	s.logf("Generated %d worldview options.", len(options))
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) selectWorldview(ctx context.Context, s State) graph.NodeResult[State] {
	options := indexedOptions(s.WorldviewOptions, func(o string) string { return excerpt(o, 200) })
	opt, ok := p.choose(ctx, &s, NodeSelectWorldview, DecisionWorldview, 0,
		"Choose the world the story takes place in.", options)
	if ok {
		if i, valid := indexOf(opt, len(s.WorldviewOptions)); valid {
			s.SelectedWorldview = s.WorldviewOptions[i]
		}
	}
	return graph.NodeResult[State]{Delta: s}
}

// generatePlot plans every chapter. A failed call still yields a plan of
// placeholder entries so drafting can proceed.
func (p *pipeline) generatePlot(ctx context.Context, s State) graph.NodeResult[State] {
	raw, err := p.generate(ctx, &s, NodeGeneratePlot, buildPlotPrompt(&s))
	if err != nil && fatal(err) {
		return p.fail(NodeGeneratePlot, err)
	}

	res := parse.Plan(raw, 1, s.TotalChapters)
	if res.Degraded() {
		s.logf("Plot plan parsed with %s strategy: %v", res.Strategy, res.Err)
	}
	s.ChapterPlan = res.Value
	s.logf("Planned %d chapters.", len(s.ChapterPlan))
	return graph.NodeResult[State]{Delta: s}
}

func (p *pipeline) generateCharacterOptions(ctx context.Context, s State) graph.NodeResult[State] {
	raw, err := p.generate(ctx, &s, NodeGenerateCharacterOptions, buildCharactersPrompt(&s))
	if err != nil && fatal(err) {
		return p.fail(NodeGenerateCharacterOptions, err)
	}

	res := parse.CharacterSets(raw)
	sets := res.Value
	if len(sets) > s.Config.OptionCount {
		sets = sets[:s.Config.OptionCount]
	}
	if len(sets) == 0 {
		sets = [][]Character{castFromPlan(s.ChapterPlan)}
		s.logf("No character sets could be parsed; using a cast derived from the plan.")
	} else if res.Degraded() {
		s.logf("Character sets parsed with %s strategy: %v", res.Strategy, res.Err)
	}

	s.CharacterOptions = sets
	s.logf("Generated %d character set options.", len(sets))
	return graph.NodeResult[State]{Delta: s}
}

// castFromPlan builds a cast from the characters named in the plan, or a
// lone protagonist when the plan names nobody.
func castFromPlan(plan []PlanEntry) []Character {
	seen := make(map[string]bool)
	var cast []Character
	for _, e := range plan {
		for _, name := range e.Characters {
			key := strings.ToLower(name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			cast = append(cast, Character{Name: name, Role: "Undefined", Description: "Appears in the chapter plan."})
		}
	}
	if len(cast) == 0 {
		cast = []Character{{Name: "Protagonist", Role: "Protagonist", Description: "The central character of the story."}}
	}
	return cast
}

func (p *pipeline) selectCharacters(ctx context.Context, s State) graph.NodeResult[State] {
	options := indexedOptions(s.CharacterOptions, castLine)
	opt, ok := p.choose(ctx, &s, NodeSelectCharacters, DecisionCharacters, 0,
		"Choose the cast of characters.", options)
	if ok {
		if i, valid := indexOf(opt, len(s.CharacterOptions)); valid {
			s.SelectedCharacters = s.CharacterOptions[i]
		}
	}
	return graph.NodeResult[State]{Delta: s}
}

// seedKnowledgeBase stores the selected artifacts so chapter drafting and
// conflict detection can retrieve them.
func (p *pipeline) seedKnowledgeBase(ctx context.Context, s State) graph.NodeResult[State] {
	docs := []knowledge.Document{
		{Kind: knowledge.KindOutline, Text: s.SelectedOutline},
		{Kind: knowledge.KindWorldview, Text: s.SelectedWorldview},
	}
	for _, c := range s.SelectedCharacters {
		docs = append(docs, knowledge.Document{
			Kind: knowledge.KindCharacter,
			Text: fmt.Sprintf("%s (%s): %s", c.Name, c.Role, c.Description),
		})
	}
	docs = append(docs, planDocuments(s.ChapterPlan)...)

	if err := p.deps.Knowledge.Add(ctx, s.JobID, docs...); err != nil {
		s.ErrorMessage = fmt.Sprintf("%s: %v", NodeSeedKnowledgeBase, err)
		s.logf("Knowledge base seeding failed: %v", err)
		p.logger.Warn("knowledge base seeding failed", "job_id", s.JobID, "error", err)
	} else {
		s.logf("Seeded knowledge base with %d documents.", len(docs))
	}
	return graph.NodeResult[State]{Delta: s}
}

func planDocuments(plan []PlanEntry) []knowledge.Document {
	docs := make([]knowledge.Document, 0, len(plan))
	for _, e := range plan {
		docs = append(docs, knowledge.Document{
			Kind:    knowledge.KindPlan,
			Chapter: e.Number,
			Text:    fmt.Sprintf("Chapter %d plan: %s. %s %s", e.Number, e.Title, e.Summary, e.KeyEvents),
		})
	}
	return docs
}
