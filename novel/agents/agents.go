// Package agents implements the scoring, conflict detection and rewriting
// collaborators of the novel pipeline on top of a text generator.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dshills/storygraph/graph/model"
	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel/parse"
)

// TextGenerator produces text for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

const scorePrompt = `You are a literary critic and editor. Review the chapter below.
Score each criterion from 1 (poor) to 10 (excellent) and justify the scores
in two or three sentences.

Chapter:
---
%s
---

Format your review exactly as follows, one item per line:
%sOverall Score: [1-10]
Justification: [your justification]`

// Scorer rates chapters with a language model.
type Scorer struct {
	Generator TextGenerator
	Logger    *slog.Logger
}

// Score implements novel.Scorer. Empty content scores 0 without a model
// call. A review that cannot be parsed scores 0 with the raw review as the
// rationale.
func (s *Scorer) Score(ctx context.Context, content string) (parse.Score, error) {
	if strings.TrimSpace(content) == "" {
		return parse.Score{Rationale: "Chapter content is empty."}, nil
	}

	var dims strings.Builder
	for _, d := range parse.Dimensions {
		fmt.Fprintf(&dims, "%s: [1-10]\n", d)
	}
	raw, err := s.Generator.GenerateText(ctx, fmt.Sprintf(scorePrompt, content, dims.String()))
	if err != nil {
		return parse.Score{}, fmt.Errorf("score chapter: %w", err)
	}

	res := parse.Quality(raw)
	if res.Degraded() {
		logger(s.Logger).Warn("quality review parsed leniently", "strategy", res.Strategy, "error", res.Err)
	}
	return res.Value, nil
}

const detectPrompt = `You are a continuity editor. Compare the chapter below with the facts
already established in the story and list every contradiction.

Established facts:
%s

Chapter:
---
%s
---

For each contradiction write a block:
BEGIN CONFLICT:
Type: [e.g. Plot Contradiction, Character Inconsistency, World Rule Violation]
Description: [what contradicts what]
Severity: [Low, Medium or High]
Excerpt: [the exact sentence from the chapter]
Suggestion: [a replacement for that sentence]
END CONFLICT.

If there are none, reply with "No clear conflicts found".`

// deathRe matches "<Name> is dead." or "<Name> was dead." for capitalised
// names of up to three words.
var deathRe = regexp.MustCompile(`\b([A-Z][a-z]+(?: [A-Z][a-z]*){0,2}) (?:is|was) dead\.`)

// notActions are past-tense verbs a dead character can still be the
// subject of.
var notActions = map[string]bool{
	"died": true, "perished": true, "buried": true, "mourned": true,
	"remembered": true, "cremated": true, "named": true,
}

// Detector finds contradictions in a chapter. It applies a local check
// for characters acting after their death and, when Generator is set,
// asks a language model to compare the chapter with the retrieved facts.
type Detector struct {
	Generator TextGenerator
	Logger    *slog.Logger

	// MaxChars bounds the chapter text sent to the model. Default 6000.
	MaxChars int
}

// Detect implements novel.ConflictDetector. A failed model call is logged
// and only the local findings are returned, unless credentials are
// missing.
func (d *Detector) Detect(ctx context.Context, content string, facts []knowledge.Snippet) ([]parse.Finding, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	findings := deadCharacterActs(content)
	if d.Generator == nil {
		return findings, nil
	}

	limit := d.MaxChars
	if limit <= 0 {
		limit = 6000
	}
	text := content
	if r := []rune(text); len(r) > limit {
		text = string(r[:limit])
	}

	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", oneLine(f.Text, 400))
	}
	if b.Len() == 0 {
		b.WriteString("(none recorded yet)\n")
	}

	raw, err := d.Generator.GenerateText(ctx, fmt.Sprintf(detectPrompt, b.String(), text))
	if err != nil {
		if errors.Is(err, model.ErrMissingCredentials) {
			return nil, fmt.Errorf("detect conflicts: %w", err)
		}
		logger(d.Logger).Warn("conflict review failed", "error", err)
		return findings, nil
	}

	res := parse.Findings(raw, oneLine(content, 200))
	if res.Degraded() {
		logger(d.Logger).Debug("conflict review parsed leniently", "strategy", res.Strategy, "error", res.Err)
	}
	return append(findings, res.Value...), nil
}

// deadCharacterActs flags characters declared dead who later act.
func deadCharacterActs(content string) []parse.Finding {
	var findings []parse.Finding
	seen := make(map[string]bool)
	for _, m := range deathRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		if seen[name] {
			continue
		}
		after := content[m[1]:]
		actRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + ` ([a-z]+ed)\b[^.!?]*[.!?]?`)
		for _, a := range actRe.FindAllStringSubmatch(after, -1) {
			if notActions[a[1]] {
				continue
			}
			seen[name] = true
			findings = append(findings, parse.Finding{
				Type:        "Plot Contradiction",
				Description: fmt.Sprintf("%s is stated to be dead but later performs an action (%s).", name, a[1]),
				Severity:    "High",
				Excerpt:     strings.TrimSpace(a[0]),
			})
			break
		}
	}
	return findings
}

const rewritePrompt = `You are a fiction editor. The passage below from a chapter has a problem:
%s

Passage:
%s

Surrounding chapter (for context):
---
%s
---

Write %d alternative versions of the passage that fix the problem and fit the
chapter. Give one per line as a numbered list and nothing else.`

// Rewriter proposes replacement passages with a language model.
type Rewriter struct {
	Generator TextGenerator

	// Alternatives is how many replacements to ask for. Default 2.
	Alternatives int
}

// Rewrite implements novel.Rewriter.
func (r *Rewriter) Rewrite(ctx context.Context, excerpt, problem, chapter string) ([]string, error) {
	n := r.Alternatives
	if n <= 0 {
		n = 2
	}
	raw, err := r.Generator.GenerateText(ctx, fmt.Sprintf(rewritePrompt, problem, excerpt, oneLine(chapter, 3000), n))
	if err != nil {
		return nil, fmt.Errorf("rewrite excerpt: %w", err)
	}

	var out []string
	for _, item := range parse.List(raw) {
		item = strings.Trim(item, `"`)
		if item == "" || item == excerpt {
			continue
		}
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
