package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlanEntry is the plan for one chapter.
type PlanEntry struct {
	Number         int      `json:"chapter_number"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	KeyEvents      string   `json:"key_events,omitempty"`
	Characters     []string `json:"characters_present,omitempty"`
	TurningPoint   string   `json:"turning_point,omitempty"`
	Hook           string   `json:"hook,omitempty"`
	EstimatedWords int      `json:"estimated_words,omitempty"`

	// PlotPointsToResolve are threads from earlier chapters this one closes.
	PlotPointsToResolve []string `json:"plot_points_to_resolve,omitempty"`

	// PlotPointsIntroduced are threads this chapter opens.
	PlotPointsIntroduced []string `json:"plot_points_introduced,omitempty"`
}

var (
	chapterBlockStart = regexp.MustCompile(`(?i)BEGIN CHAPTER\s*(\d+)\s*:?`)
	chapterBlockEnd   = regexp.MustCompile(`(?i)END CHAPTER\s*(\d+)\s*:?`)
)

// Plan parses count chapter plans delimited by "BEGIN CHAPTER n:" and
// "END CHAPTER n:" markers. Chapters are renumbered from start in the
// order they appear, so relative numbering in the text is tolerated.
//
// Strategies:
//   - strict: matching BEGIN/END pairs
//   - lenient: BEGIN markers only, each block running to the next BEGIN
//   - lenient: a numbered or bulleted list, one chapter per item
//   - fallback: count placeholder entries sharing the raw text as summary
//
// Missing chapters are padded with placeholders so the result always
// holds exactly count entries.
func Plan(raw string, start, count int) Result[[]PlanEntry] {
	if count <= 0 {
		return strict([]PlanEntry(nil))
	}

	blocks, err := planBlocksStrict(raw)
	strategy := StrategyStrict
	if err != nil {
		blocks = planBlocksBeginOnly(raw)
		strategy = StrategyLenient
	}

	var entries []PlanEntry
	for i, block := range blocks {
		if i >= count {
			break
		}
		entries = append(entries, planEntryFrom(block, start+i))
	}

	if len(entries) == 0 {
		if err == nil {
			err = &ParseError{Stage: "plan", Strategy: StrategyStrict, Reason: "no chapter blocks"}
		}
		for i, item := range List(raw) {
			if i >= count {
				break
			}
			entries = append(entries, PlanEntry{
				Number:  start + i,
				Title:   fmt.Sprintf("Chapter %d", start+i),
				Summary: item,
			})
		}
		strategy = StrategyLenient
		if len(entries) == 0 {
			strategy = StrategyFallback
		}
	}

	if len(entries) < count {
		if err == nil {
			err = &ParseError{
				Stage:    "plan",
				Strategy: strategy,
				Reason:   fmt.Sprintf("expected %d chapters, found %d", count, len(entries)),
			}
			strategy = StrategyLenient
		}
		summary := truncate(strings.TrimSpace(raw), 500)
		if summary == "" {
			summary = "Continue the story."
		}
		for n := start + len(entries); n < start+count; n++ {
			entries = append(entries, PlanEntry{
				Number:  n,
				Title:   fmt.Sprintf("Chapter %d", n),
				Summary: summary,
			})
		}
	}

	if strategy == StrategyStrict {
		return strict(entries)
	}
	return degraded(entries, strategy, err)
}

func planBlocksStrict(raw string) ([]string, *ParseError) {
	starts := chapterBlockStart.FindAllStringSubmatchIndex(raw, -1)
	if len(starts) == 0 {
		return nil, &ParseError{Stage: "plan", Strategy: StrategyStrict, Reason: "no BEGIN CHAPTER markers"}
	}

	var blocks []string
	for _, loc := range starts {
		number := raw[loc[2]:loc[3]]
		rest := raw[loc[1]:]
		end := -1
		for _, m := range chapterBlockEnd.FindAllStringSubmatchIndex(rest, -1) {
			if rest[m[2]:m[3]] == number {
				end = m[0]
				break
			}
		}
		if end < 0 {
			return nil, &ParseError{
				Stage:    "plan",
				Strategy: StrategyStrict,
				Reason:   "BEGIN CHAPTER " + number + " has no matching END marker",
			}
		}
		blocks = append(blocks, strings.TrimSpace(rest[:end]))
	}
	return blocks, nil
}

func planBlocksBeginOnly(raw string) []string {
	starts := chapterBlockStart.FindAllStringIndex(raw, -1)
	var blocks []string
	for i, loc := range starts {
		end := len(raw)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		block := chapterBlockEnd.ReplaceAllString(raw[loc[1]:end], "")
		if block = strings.TrimSpace(block); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// planEntryFrom reads the labelled fields of one chapter block.
func planEntryFrom(block string, number int) PlanEntry {
	entry := PlanEntry{Number: number}

	if v, ok := field(block, "Title"); ok {
		entry.Title = v
	} else {
		entry.Title = fmt.Sprintf("Chapter %d", number)
	}
	if v, ok := field(block, "Core_Scene_Summary", "Scene Summary", "Chapter Summary", "Summary"); ok {
		entry.Summary = v
	}
	if v, ok := field(block, "Key_Events_and_Plot_Progression", "Key Events", "Plot Progression"); ok {
		entry.KeyEvents = v
	}
	if v, ok := field(block, "Characters_Present", "Characters"); ok {
		entry.Characters = splitCSV(v)
	}
	if v, ok := field(block, "Turning_Point"); ok {
		entry.TurningPoint = v
	}
	if v, ok := field(block, "Suspense_or_Hook", "Hook"); ok {
		entry.Hook = v
	}
	if v, ok := field(block, "Estimated_Words", "Estimated Word Count", "Word Count"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(strings.Fields(v)[0])); err == nil {
			entry.EstimatedWords = n
		}
	}
	if v, ok := field(block, "Plot_Points_To_Resolve", "Plot Points to Resolve from Previous", "Resolve Plot Points"); ok {
		entry.PlotPointsToResolve = splitCSV(v)
	}
	if v, ok := field(block, "Plot_Points_Introduced", "New Plot Points or Mysteries Introduced", "New Plot Points"); ok {
		entry.PlotPointsIntroduced = splitCSV(v)
	}

	if entry.Summary == "" {
		switch {
		case entry.KeyEvents != "":
			entry.Summary = entry.KeyEvents
		default:
			entry.Summary = truncate(strings.TrimSpace(block), 500)
		}
	}
	return entry
}
