package parse

import (
	"regexp"
	"strings"
)

// Finding is one consistency problem reported by a reviewer.
type Finding struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Excerpt     string `json:"excerpt"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// NoConflicts is the phrase a reviewer uses to report a clean chapter.
const NoConflicts = "no clear conflicts found"

var findingBlock = regexp.MustCompile(`(?is)BEGIN CONFLICT:(.*?)END CONFLICT\.?`)

// Findings parses a conflict review.
//
// A reply containing NoConflicts (in any case) yields no findings.
// Otherwise "BEGIN CONFLICT: ... END CONFLICT." blocks with Type,
// Description, Severity, Excerpt and Suggestion lines are read; a reply
// without blocks becomes a single medium-severity finding describing the
// whole reply, with fallbackExcerpt as the excerpt.
func Findings(raw, fallbackExcerpt string) Result[[]Finding] {
	text := strings.TrimSpace(raw)
	if text == "" || strings.Contains(strings.ToLower(text), NoConflicts) {
		return strict([]Finding(nil))
	}

	var findings []Finding
	for _, m := range findingBlock.FindAllStringSubmatch(text, -1) {
		block := m[1]
		f := Finding{}
		f.Type, _ = field(block, "Type")
		f.Description, _ = field(block, "Description")
		f.Severity, _ = field(block, "Severity")
		f.Excerpt, _ = field(block, "Excerpt")
		f.Suggestion, _ = field(block, "Suggestion")
		f.Excerpt = strings.Trim(f.Excerpt, `"`)
		f.Suggestion = strings.Trim(f.Suggestion, `"`)
		if f.Description == "" {
			continue
		}
		if f.Type == "" {
			f.Type = "Inconsistency"
		}
		if f.Severity == "" {
			f.Severity = "Medium"
		}
		findings = append(findings, f)
	}
	if len(findings) > 0 {
		return strict(findings)
	}

	return degraded([]Finding{{
		Type:        "Potential LLM-flagged Inconsistency",
		Description: truncate(text, 1000),
		Severity:    "Medium",
		Excerpt:     fallbackExcerpt,
	}}, StrategyFallback, &ParseError{
		Stage:    "conflicts",
		Strategy: StrategyStrict,
		Reason:   "no BEGIN CONFLICT blocks",
	})
}
