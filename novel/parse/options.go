package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// Twist is one plot twist option for the chapters after a given point.
type Twist struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	KeyEvents string `json:"key_events"`
	Turning   string `json:"turning_point,omitempty"`
}

// Branch is one alternative direction covering several chapters.
type Branch struct {
	Theme    string      `json:"theme"`
	Chapters []PlanEntry `json:"chapters"`
}

// Character is one character concept.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Role        string `json:"role"`
}

var (
	twistBlock     = regexp.MustCompile(`(?is)BEGIN PLOT TWIST OPTION:(.*?)END PLOT TWIST OPTION\.?`)
	branchBlock    = regexp.MustCompile(`(?is)BEGIN PLOT BRANCH OPTION:(.*?)END PLOT BRANCH OPTION\.?`)
	branchChapter  = regexp.MustCompile(`(?im)^\s*Chapter_Number:`)
	castBlock      = regexp.MustCompile(`(?is)BEGIN CHARACTER SET:(.*?)END CHARACTER SET\.?`)
	characterStart = regexp.MustCompile(`(?im)^\s*Character\s+\d+\s*:?\s*$`)
)

// TwistOptions parses "BEGIN PLOT TWIST OPTION: ... END PLOT TWIST OPTION."
// blocks. Options lacking both a title and key events are skipped.
//
// There is no raw-text fallback: a twist nobody can read is not an option.
// An empty result with a non-nil Err means the text held no options.
func TwistOptions(raw string) Result[[]Twist] {
	var twists []Twist
	for _, m := range twistBlock.FindAllStringSubmatch(raw, -1) {
		block := m[1]
		t := Twist{}
		t.Title, _ = field(block, "Title")
		t.Summary, _ = field(block, "Core_Scene_Summary", "Summary")
		t.KeyEvents, _ = field(block, "Key_Events_and_Plot_Progression", "Key Events")
		t.Turning, _ = field(block, "Turning_Point")
		if t.Title == "" && t.KeyEvents == "" {
			continue
		}
		if t.Title == "" {
			t.Title = "Untitled Twist Option"
		}
		if t.Summary == "" {
			t.Summary = t.KeyEvents
		}
		twists = append(twists, t)
	}
	if len(twists) == 0 {
		return degraded([]Twist(nil), StrategyFallback, &ParseError{
			Stage:    "twist",
			Strategy: StrategyStrict,
			Reason:   "no BEGIN PLOT TWIST OPTION blocks with a title or key events",
		})
	}
	return strict(twists)
}

// BranchOptions parses "BEGIN PLOT BRANCH OPTION: ... END PLOT BRANCH
// OPTION." blocks, each holding length chapter plans introduced by
// "Chapter_Number:". Chapters are renumbered from start. A branch with
// fewer chapters than length is padded from its theme.
func BranchOptions(raw string, start, length int) Result[[]Branch] {
	var (
		branches []Branch
		first    *ParseError
	)
	for _, m := range branchBlock.FindAllStringSubmatch(raw, -1) {
		block := m[1]
		b := Branch{}
		b.Theme, _ = field(block, "Branch_Theme", "Theme")

		starts := branchChapter.FindAllStringIndex(block, -1)
		for i, loc := range starts {
			if len(b.Chapters) >= length {
				break
			}
			end := len(block)
			if i+1 < len(starts) {
				end = starts[i+1][0]
			}
			b.Chapters = append(b.Chapters, planEntryFrom(block[loc[0]:end], start+len(b.Chapters)))
		}
		if len(b.Chapters) == 0 && b.Theme == "" {
			continue
		}
		if len(b.Chapters) < length && first == nil {
			first = &ParseError{
				Stage:    "branch",
				Strategy: StrategyStrict,
				Reason:   fmt.Sprintf("branch has %d of %d chapters", len(b.Chapters), length),
			}
		}
		for n := start + len(b.Chapters); n < start+length; n++ {
			b.Chapters = append(b.Chapters, PlanEntry{
				Number:  n,
				Title:   fmt.Sprintf("Chapter %d", n),
				Summary: b.Theme,
			})
		}
		if b.Theme == "" {
			b.Theme = b.Chapters[0].Title
		}
		branches = append(branches, b)
	}

	if len(branches) == 0 {
		return degraded([]Branch(nil), StrategyFallback, &ParseError{
			Stage:    "branch",
			Strategy: StrategyStrict,
			Reason:   "no BEGIN PLOT BRANCH OPTION blocks",
		})
	}
	if first != nil {
		return degraded(branches, StrategyLenient, first)
	}
	return strict(branches)
}

// CharacterSets parses cast options. Each option is a "BEGIN CHARACTER SET:
// ... END CHARACTER SET." block of "Character N:" entries with Name,
// Description and Role lines. Text without set markers is read as a single
// cast; text without character markers but with a Name line as a single
// character.
func CharacterSets(raw string) Result[[][]Character] {
	var sets [][]Character
	for _, m := range castBlock.FindAllStringSubmatch(raw, -1) {
		if cast := characters(m[1]); len(cast) > 0 {
			sets = append(sets, cast)
		}
	}
	if len(sets) > 0 {
		return strict(sets)
	}

	first := &ParseError{Stage: "characters", Strategy: StrategyStrict, Reason: "no BEGIN CHARACTER SET blocks"}
	if cast := characters(raw); len(cast) > 0 {
		return degraded([][]Character{cast}, StrategyLenient, first)
	}
	return degraded([][]Character(nil), StrategyFallback, first)
}

func characters(text string) []Character {
	var blocks []string
	starts := characterStart.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		blocks = []string{text}
	}
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		blocks = append(blocks, text[loc[1]:end])
	}

	var cast []Character
	for _, block := range blocks {
		c := Character{}
		c.Name, _ = field(block, "Name")
		c.Description, _ = field(block, "Description")
		c.Role, _ = field(block, "Role")
		if c.Name == "" && c.Description == "" && c.Role == "" {
			continue
		}
		if c.Name == "" {
			c.Name = "Unknown"
		}
		if c.Role == "" {
			c.Role = "Undefined"
		}
		cast = append(cast, c)
	}
	return cast
}

// CastSummary renders a cast as one line per character.
func CastSummary(cast []Character) string {
	lines := make([]string, 0, len(cast))
	for _, c := range cast {
		lines = append(lines, fmt.Sprintf("%s (%s): %s", c.Name, c.Role, c.Description))
	}
	return strings.Join(lines, "\n")
}
