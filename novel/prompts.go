package novel

import (
	"fmt"
	"strings"

	"github.com/dshills/storygraph/novel/parse"
)

const outlinePrompt = `You are a creative novel planner.
Write story outline %d of %d for a novel of %d chapters.

Theme: %s
Style: %s

Describe the premise, the central conflict, the main arc from opening to
resolution and the tone. Make this outline distinct from the other options.`

const worldviewPrompt = `You are a world builder.
Design world %d of %d for the novel outlined below.

Outline:
%s

Theme: %s
Style: %s

Cover the setting, its history, the rules that govern it (social, political,
magical or technological) and the sensory texture of everyday life.`

const plotPrompt = `You are a master storyteller and plot architect.
Plan a novel of exactly %d chapters of about %d words each.

Outline:
%s

World:
%s

For every chapter write one block:

BEGIN CHAPTER N:
Title: ...
Core_Scene_Summary: ...
Key_Events_and_Plot_Progression: ...
Characters_Present: name, name
Turning_Point: ...
Suspense_or_Hook: ...
Plot_Points_To_Resolve: ...
Plot_Points_Introduced: ...
END CHAPTER N:`

const charactersPrompt = `You are a character designer.
Propose %d alternative casts for the novel below.

Outline:
%s

World:
%s

Plan:
%s

Write each cast as:

BEGIN CHARACTER SET:
Character 1:
Name: ...
Description: ...
Role: ...
END CHARACTER SET.`

const chapterPrompt = `You are a novelist writing chapter %d of %d (about %d words).
Style: %s

%s

Reply with:
Title: the chapter title
Content: the full chapter prose
Summary: a two or three sentence summary`

const twistPrompt = `You are a plot twist specialist.
Chapters 1 to %d of a %d-chapter novel are written. Propose %d plot twists
that change the direction of the remaining chapters.

Outline:
%s

Story so far:
%s

Remaining plan:
%s

Write each option as:

BEGIN PLOT TWIST OPTION:
Title: ...
Core_Scene_Summary: ...
Key_Events_and_Plot_Progression: ...
Turning_Point: ...
END PLOT TWIST OPTION.`

const branchPrompt = `You are a narrative branching designer.
Before chapter %d of a %d-chapter novel, propose %d alternative directions,
each covering chapters %d to %d.

Outline:
%s

Story so far:
%s

Current plan for these chapters:
%s

Write each option as:

BEGIN PLOT BRANCH OPTION:
Branch_Theme: ...
Chapter_Number: %d
Title: ...
Core_Scene_Summary: ...
Key_Events_and_Plot_Progression: ...
(one Chapter_Number section per chapter)
END PLOT BRANCH OPTION.`

const regenPrompt = `You are a plot regeneration specialist.
The plan of a %d-chapter novel changed at chapter %d. Re-plan chapters %d to %d
so they follow from the chapters kept below.

Outline:
%s

Kept plan:
%s
%s
Use the same block format:

BEGIN CHAPTER N:
Title: ...
Core_Scene_Summary: ...
Key_Events_and_Plot_Progression: ...
Characters_Present: name, name
Turning_Point: ...
Suspense_or_Hook: ...
END CHAPTER N:`

func styleOf(cfg JobConfig) string {
	if cfg.Style == "" {
		return "unspecified"
	}
	return cfg.Style
}

func buildOutlinePrompt(cfg JobConfig, i, n int) string {
	return fmt.Sprintf(outlinePrompt, i, n, cfg.Chapters, cfg.Theme, styleOf(cfg))
}

func buildWorldviewPrompt(s *State, i, n int) string {
	return fmt.Sprintf(worldviewPrompt, i, n, s.SelectedOutline, s.Config.Theme, styleOf(s.Config))
}

func buildPlotPrompt(s *State) string {
	return fmt.Sprintf(plotPrompt, s.TotalChapters, s.Config.WordsPerChapter, s.SelectedOutline, s.SelectedWorldview)
}

func buildCharactersPrompt(s *State) string {
	return fmt.Sprintf(charactersPrompt, s.Config.OptionCount, s.SelectedOutline, s.SelectedWorldview, renderPlan(s.ChapterPlan))
}

func buildChapterPrompt(s *State) string {
	return fmt.Sprintf(chapterPrompt, s.CurrentChapter, s.TotalChapters, s.Config.WordsPerChapter, styleOf(s.Config), s.ChapterBrief)
}

func buildTwistPrompt(s *State, after int) string {
	var remaining []PlanEntry
	for _, e := range s.ChapterPlan {
		if e.Number > after {
			remaining = append(remaining, e)
		}
	}
	return fmt.Sprintf(twistPrompt, after, s.TotalChapters, s.Config.OptionCount,
		s.SelectedOutline, storySoFar(s, after+1), renderPlan(remaining))
}

func buildBranchPrompt(s *State, start, length int) string {
	var current []PlanEntry
	for _, e := range s.ChapterPlan {
		if e.Number >= start && e.Number < start+length {
			current = append(current, e)
		}
	}
	return fmt.Sprintf(branchPrompt, start, s.TotalChapters, s.Config.OptionCount, start, start+length-1,
		s.SelectedOutline, storySoFar(s, start), renderPlan(current), start)
}

func buildRegenPrompt(s *State, start int, kept []PlanEntry) string {
	var guidance strings.Builder
	if t := s.SelectedTwist; t != nil && s.PlotModifiedAt > 0 {
		fmt.Fprintf(&guidance, "\nPlot twist after chapter %d: %s\n%s\n", s.PlotModifiedAt, t.Title, t.Summary)
		if t.KeyEvents != "" && t.KeyEvents != t.Summary {
			fmt.Fprintf(&guidance, "Key events: %s\n", t.KeyEvents)
		}
	}
	if b := s.SelectedBranch; b != nil {
		fmt.Fprintf(&guidance, "\nChosen branch: %s\n", b.Theme)
	}
	return fmt.Sprintf(regenPrompt, s.TotalChapters, s.PlotModifiedAt, start, s.TotalChapters,
		s.SelectedOutline, renderPlan(kept), guidance.String())
}

func renderPlan(plan []PlanEntry) string {
	if len(plan) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range plan {
		fmt.Fprintf(&b, "Chapter %d: %s. %s\n", e.Number, e.Title, e.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// storySoFar summarises written chapters numbered below before.
func storySoFar(s *State, before int) string {
	var b strings.Builder
	for _, ch := range s.WrittenChapters {
		if ch.Number >= before {
			break
		}
		fmt.Fprintf(&b, "Chapter %d (%s): %s\n", ch.Number, ch.Title, ch.Summary)
	}
	if b.Len() == 0 {
		return "(nothing written yet)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func castLine(cast []parse.Character) string {
	names := make([]string, 0, len(cast))
	for _, c := range cast {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
