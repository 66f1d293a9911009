package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// ChapterDraft is a drafted chapter split into its parts.
type ChapterDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

var lenientMarker = regexp.MustCompile(`(?im)^\s*(?:\*\*|#+\s*)?(title|content|summary)(?:\*\*)?\s*:\s*(?:\*\*)?`)

// Chapter parses a drafted chapter laid out as "Title:", "Content:" and
// "Summary:" sections.
//
// Strategies:
//   - strict: all three markers present in order with non-empty sections
//   - lenient: markers matched at line starts in any case or decoration;
//     a missing summary is derived from the content
//   - fallback: the whole text becomes the content of a chapter titled
//     "Chapter N (Parsing Failed)"
func Chapter(raw string, number int) Result[ChapterDraft] {
	draft, err := chapterStrict(raw)
	if err == nil {
		return strict(draft)
	}

	if draft, ok := chapterLenient(raw); ok {
		if draft.Title == "" {
			draft.Title = fmt.Sprintf("Chapter %d", number)
		}
		return degraded(draft, StrategyLenient, err)
	}

	text := strings.TrimSpace(raw)
	return degraded(ChapterDraft{
		Title:   fmt.Sprintf("Chapter %d (Parsing Failed)", number),
		Content: text,
		Summary: truncate(text, 200),
	}, StrategyFallback, err)
}

func chapterStrict(raw string) (ChapterDraft, *ParseError) {
	fail := func(reason string) (ChapterDraft, *ParseError) {
		return ChapterDraft{}, &ParseError{Stage: "chapter", Strategy: StrategyStrict, Reason: reason}
	}

	titleAt := strings.Index(raw, "Title:")
	contentAt := strings.Index(raw, "Content:")
	summaryAt := strings.Index(raw, "Summary:")
	if titleAt < 0 || contentAt < 0 || summaryAt < 0 || !(titleAt < contentAt && contentAt < summaryAt) {
		return fail("Title:, Content: and Summary: markers not found in order")
	}

	draft := ChapterDraft{
		Title:   strings.TrimSpace(raw[titleAt+len("Title:") : contentAt]),
		Content: strings.TrimSpace(raw[contentAt+len("Content:") : summaryAt]),
		Summary: strings.TrimSpace(raw[summaryAt+len("Summary:"):]),
	}
	if draft.Title == "" || draft.Content == "" || draft.Summary == "" {
		return fail("title, content or summary is empty")
	}
	return draft, nil
}

func chapterLenient(raw string) (ChapterDraft, bool) {
	locs := lenientMarker.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return ChapterDraft{}, false
	}

	sections := make(map[string]string)
	for i, loc := range locs {
		name := strings.ToLower(raw[loc[2]:loc[3]])
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if _, seen := sections[name]; !seen {
			sections[name] = strings.TrimSpace(raw[loc[1]:end])
		}
	}

	draft := ChapterDraft{
		Title:   sections["title"],
		Content: sections["content"],
		Summary: sections["summary"],
	}
	if draft.Content == "" {
		return ChapterDraft{}, false
	}
	if draft.Summary == "" {
		draft.Summary = truncate(draft.Content, 200)
	}
	return draft, true
}
