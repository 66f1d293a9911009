package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dshills/storygraph/novel"
)

// formPrompter answers pending decisions with interactive terminal forms.
type formPrompter struct {
	// accessible renders plain prompts for screen readers and pipes.
	accessible bool
}

// choice is one selectable line of a decision form.
type choice struct {
	label   string
	payload novel.DecisionPayload
}

func (p formPrompter) Prompt(ctx context.Context, d novel.PendingDecision) (novel.DecisionPayload, error) {
	fmt.Println(renderDecision(d))

	choices := decisionChoices(d)
	if len(choices) == 0 {
		return novel.DecisionPayload{}, fmt.Errorf("decision %s has no options", d.Type)
	}

	var picked int
	opts := make([]huh.Option[int], len(choices))
	for i, c := range choices {
		opts[i] = huh.NewOption(c.label, i)
	}
	sel := huh.NewSelect[int]().
		Title(d.Prompt).
		Options(opts...).
		Value(&picked)
	if err := p.run(ctx, sel); err != nil {
		return novel.DecisionPayload{}, err
	}

	payload := choices[picked].payload
	if payload.Action == novel.ActionSubmitEdit {
		edited := reviewContent(d)
		text := huh.NewText().
			Title(fmt.Sprintf("Edit chapter %d", d.Chapter)).
			Lines(20).
			Value(&edited).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("edited chapter cannot be empty")
				}
				return nil
			})
		if err := p.run(ctx, text); err != nil {
			return novel.DecisionPayload{}, err
		}
		payload.EditedContent = edited
	}
	payload.Type = d.Type
	return payload, nil
}

func (p formPrompter) run(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).WithAccessible(p.accessible)
	if err := form.RunWithContext(ctx); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

// decisionChoices flattens a pending decision into selectable payloads.
func decisionChoices(d novel.PendingDecision) []choice {
	switch d.Type {
	case novel.DecisionConflict:
		var out []choice
		for _, o := range d.Options {
			var c novel.Conflict
			if err := json.Unmarshal(o.Data, &c); err != nil {
				c = novel.Conflict{ID: o.ID, Description: o.Summary}
			}
			for i, s := range c.Suggestions {
				idx := i
				out = append(out, choice{
					label: fmt.Sprintf("Apply to %q: %s", truncate(c.Description, 40), truncate(s, 60)),
					payload: novel.DecisionPayload{
						Action: novel.ActionApplySuggestion, ConflictID: o.ID, SuggestionIndex: &idx,
					},
				})
			}
			out = append(out, choice{
				label:   fmt.Sprintf("Ignore %q", truncate(c.Description, 60)),
				payload: novel.DecisionPayload{Action: novel.ActionIgnore, ConflictID: o.ID},
			})
		}
		return append(out,
			choice{label: "Rewrite the chapter to fix every conflict",
				payload: novel.DecisionPayload{Action: novel.ActionRewriteAll}},
			choice{label: "Proceed and leave the remaining conflicts",
				payload: novel.DecisionPayload{Action: novel.ActionProceedRemaining}},
		)

	case novel.DecisionManualReview:
		out := make([]choice, 0, len(d.Options))
		for _, o := range d.Options {
			out = append(out, choice{label: o.Summary, payload: novel.DecisionPayload{Action: o.ID}})
		}
		return out

	default:
		out := make([]choice, 0, len(d.Options))
		for _, o := range d.Options {
			out = append(out, choice{
				label:   o.ID + ": " + truncate(o.Summary, 100),
				payload: novel.DecisionPayload{SelectedID: o.ID},
			})
		}
		return out
	}
}

// reviewContent returns the chapter text carried by a manual review
// decision, to prefill the editor.
func reviewContent(d novel.PendingDecision) string {
	for _, o := range d.Options {
		if len(o.Data) == 0 {
			continue
		}
		var ch novel.Chapter
		if err := json.Unmarshal(o.Data, &ch); err == nil && ch.Content != "" {
			return ch.Content
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseSuggestionIndex parses an optional --suggestion flag value.
func parseSuggestionIndex(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("suggestion index must be a non-negative integer, got %q", v)
	}
	return &n, nil
}
