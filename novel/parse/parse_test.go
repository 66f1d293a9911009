package parse

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChapter(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantStrategy Strategy
		wantTitle    string
		wantContent  string
		wantSummary  string
	}{
		{
			name:         "strict markers",
			raw:          "Title: The Gate\n\nContent:\nShe opened the gate.\n\nSummary: The gate opens.",
			wantStrategy: StrategyStrict,
			wantTitle:    "The Gate",
			wantContent:  "She opened the gate.",
			wantSummary:  "The gate opens.",
		},
		{
			name:         "decorated markers without summary",
			raw:          "**Title:** The Gate\n**Content:** She opened the gate.",
			wantStrategy: StrategyLenient,
			wantTitle:    "The Gate",
			wantContent:  "She opened the gate.",
			wantSummary:  "She opened the gate.",
		},
		{
			name:         "no markers",
			raw:          "  Just some prose.  ",
			wantStrategy: StrategyFallback,
			wantTitle:    "Chapter 4 (Parsing Failed)",
			wantContent:  "Just some prose.",
			wantSummary:  "Just some prose.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chapter(tt.raw, 4)
			if got.Strategy != tt.wantStrategy {
				t.Errorf("expected strategy %s, got %s", tt.wantStrategy, got.Strategy)
			}
			if got.Value.Title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, got.Value.Title)
			}
			if got.Value.Content != tt.wantContent {
				t.Errorf("expected content %q, got %q", tt.wantContent, got.Value.Content)
			}
			if got.Value.Summary != tt.wantSummary {
				t.Errorf("expected summary %q, got %q", tt.wantSummary, got.Value.Summary)
			}
			if got.Degraded() && got.Err == nil {
				t.Error("expected degraded result to carry the strict error")
			}
		})
	}
}

func TestChapter_MultibyteSummary(t *testing.T) {
	content := strings.Repeat("海", 250)
	got := Chapter("**Title:** 灯塔\n**Content:** "+content, 1)
	if got.Value.Title != "灯塔" {
		t.Errorf("expected title %q, got %q", "灯塔", got.Value.Title)
	}
	sum := got.Value.Summary
	if !utf8.ValidString(sum) {
		t.Fatalf("summary is not valid UTF-8: %q", sum)
	}
	if want := strings.Repeat("海", 200) + "..."; sum != want {
		t.Errorf("expected 200 runes and an ellipsis, got %d runes", utf8.RuneCountInString(sum))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"日本語のテキスト", 3, "日本語..."},
		{"héllo", 2, "hé..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d): expected %q, got %q", tt.in, tt.n, tt.want, got)
		}
	}
}

const twoChapterPlan = `BEGIN CHAPTER 1:
Title: Arrival
Core_Scene_Summary: Mira reaches the city.
Characters_Present: Mira, Tov
Estimated_Words: 1500
END CHAPTER 1:
BEGIN CHAPTER 2:
Title: Departure
Key_Events_and_Plot_Progression: Mira flees at night.
END CHAPTER 2:`

func TestPlan(t *testing.T) {
	t.Run("strict blocks renumbered from start", func(t *testing.T) {
		got := Plan(twoChapterPlan, 4, 2)
		if got.Strategy != StrategyStrict {
			t.Fatalf("expected strict, got %s (%v)", got.Strategy, got.Err)
		}
		if len(got.Value) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(got.Value))
		}
		first, second := got.Value[0], got.Value[1]
		if first.Number != 4 || second.Number != 5 {
			t.Errorf("expected chapters 4 and 5, got %d and %d", first.Number, second.Number)
		}
		if first.Title != "Arrival" || first.Summary != "Mira reaches the city." {
			t.Errorf("unexpected first entry: %+v", first)
		}
		if len(first.Characters) != 2 || first.EstimatedWords != 1500 {
			t.Errorf("expected characters and words parsed, got %+v", first)
		}
		if second.Summary != "Mira flees at night." {
			t.Errorf("expected summary from key events, got %q", second.Summary)
		}
	})

	t.Run("begin markers only", func(t *testing.T) {
		raw := "BEGIN CHAPTER 1:\nTitle: A\nSummary: one\nBEGIN CHAPTER 2:\nTitle: B\nSummary: two"
		got := Plan(raw, 1, 2)
		if got.Strategy != StrategyLenient {
			t.Errorf("expected lenient, got %s", got.Strategy)
		}
		if got.Value[1].Title != "B" || got.Value[1].Summary != "two" {
			t.Errorf("unexpected second entry: %+v", got.Value[1])
		}
	})

	t.Run("numbered list", func(t *testing.T) {
		got := Plan("1. The hero leaves.\n2. The hero returns.", 1, 2)
		if got.Strategy != StrategyLenient {
			t.Errorf("expected lenient, got %s", got.Strategy)
		}
		if got.Value[0].Summary != "The hero leaves." {
			t.Errorf("expected list item summary, got %q", got.Value[0].Summary)
		}
	})

	t.Run("short plan is padded", func(t *testing.T) {
		got := Plan(twoChapterPlan, 1, 3)
		if len(got.Value) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got.Value))
		}
		if got.Value[2].Number != 3 || got.Value[2].Title != "Chapter 3" {
			t.Errorf("unexpected padding entry: %+v", got.Value[2])
		}
		if !got.Degraded() {
			t.Error("expected padded plan to be degraded")
		}
	})

	t.Run("empty text", func(t *testing.T) {
		got := Plan("", 1, 2)
		if got.Strategy != StrategyFallback || len(got.Value) != 2 {
			t.Errorf("expected 2 fallback entries, got %s with %d", got.Strategy, len(got.Value))
		}
	})
}

func TestTwistOptions(t *testing.T) {
	raw := `BEGIN PLOT TWIST OPTION:
Chapter_Number: 4
Title: The Traitor
Key_Events_and_Plot_Progression: Tov was working for the duke all along.
END PLOT TWIST OPTION.
BEGIN PLOT TWIST OPTION:
Estimated_Words: 1000
END PLOT TWIST OPTION.
BEGIN PLOT TWIST OPTION:
Title: The Flood
Core_Scene_Summary: The river breaks its banks.
END PLOT TWIST OPTION.`

	got := TwistOptions(raw)
	if got.Strategy != StrategyStrict {
		t.Fatalf("expected strict, got %s", got.Strategy)
	}
	if len(got.Value) != 2 {
		t.Fatalf("expected the empty option skipped, got %d options", len(got.Value))
	}
	if got.Value[0].Summary != "Tov was working for the duke all along." {
		t.Errorf("expected summary from key events, got %q", got.Value[0].Summary)
	}

	empty := TwistOptions("nothing here")
	if len(empty.Value) != 0 || empty.Err == nil {
		t.Errorf("expected no options and an error, got %+v", empty)
	}
}

func TestBranchOptions(t *testing.T) {
	raw := `BEGIN PLOT BRANCH OPTION:
Branch_Theme: Into the mountains
--- Branch Chapter 1 (Overall Chapter 3) ---
Chapter_Number: 3
Title: The Pass
Core_Scene_Summary: They climb.
--- Branch Chapter 2 (Overall Chapter 4) ---
Chapter_Number: 4
Title: The Summit
Core_Scene_Summary: They arrive.
END PLOT BRANCH OPTION.
BEGIN PLOT BRANCH OPTION:
Branch_Theme: Down the river
Chapter_Number: 7
Title: The Boat
END PLOT BRANCH OPTION.`

	got := BranchOptions(raw, 3, 2)
	if len(got.Value) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(got.Value))
	}
	mountains := got.Value[0]
	if mountains.Theme != "Into the mountains" || len(mountains.Chapters) != 2 {
		t.Fatalf("unexpected first branch: %+v", mountains)
	}
	if mountains.Chapters[1].Title != "The Summit" || mountains.Chapters[1].Number != 4 {
		t.Errorf("unexpected chapter: %+v", mountains.Chapters[1])
	}

	river := got.Value[1]
	if river.Chapters[0].Number != 3 {
		t.Errorf("expected renumbering from 3, got %d", river.Chapters[0].Number)
	}
	if len(river.Chapters) != 2 || river.Chapters[1].Summary != "Down the river" {
		t.Errorf("expected padding from theme, got %+v", river.Chapters)
	}
	if got.Strategy != StrategyLenient {
		t.Errorf("expected lenient for a short branch, got %s", got.Strategy)
	}
}

func TestCharacterSets(t *testing.T) {
	t.Run("sets", func(t *testing.T) {
		raw := `BEGIN CHARACTER SET:
Character 1:
Name: Mira
Description: A courier.
Role: protagonist
Character 2:
Name: Tov
Role: mentor
END CHARACTER SET.
BEGIN CHARACTER SET:
Character 1:
Name: Anselm
Description: A monk.
Role: protagonist
END CHARACTER SET.`
		got := CharacterSets(raw)
		if got.Strategy != StrategyStrict || len(got.Value) != 2 {
			t.Fatalf("expected 2 strict sets, got %s with %d", got.Strategy, len(got.Value))
		}
		if len(got.Value[0]) != 2 || got.Value[0][1].Name != "Tov" {
			t.Errorf("unexpected first cast: %+v", got.Value[0])
		}
	})

	t.Run("bare characters form one cast", func(t *testing.T) {
		got := CharacterSets("Character 1:\nName: Mira\nRole: courier\n")
		if got.Strategy != StrategyLenient || len(got.Value) != 1 || got.Value[0][0].Name != "Mira" {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("single character without markers", func(t *testing.T) {
		got := CharacterSets("Name: Mira\nDescription: A courier.")
		if len(got.Value) != 1 || got.Value[0][0].Role != "Undefined" {
			t.Errorf("unexpected result: %+v", got.Value)
		}
	})
}

func TestQuality(t *testing.T) {
	t.Run("complete review", func(t *testing.T) {
		raw := "Coherence: 8\nConsistency: 7\nPacing: 6\nEngagement: 9\nOriginality: 12\nDetail: 7.5\nGrammar: 0\nOverall Score: 7.2\nJustification: Solid chapter."
		got := Quality(raw)
		if got.Strategy != StrategyStrict {
			t.Fatalf("expected strict, got %s (%v)", got.Strategy, got.Err)
		}
		if got.Value.Dimensions["Originality"] != 10 || got.Value.Dimensions["Grammar"] != 1 {
			t.Errorf("expected clamping, got %v", got.Value.Dimensions)
		}
		if got.Value.Overall != 7.2 || got.Value.Rationale != "Solid chapter." {
			t.Errorf("unexpected overall/rationale: %+v", got.Value)
		}
	})

	t.Run("overall from mean", func(t *testing.T) {
		got := Quality("Coherence: 8\nPacing: 5")
		if got.Strategy != StrategyLenient || got.Value.Overall != 6.5 {
			t.Errorf("expected lenient mean 6.5, got %s %v", got.Strategy, got.Value.Overall)
		}
	})

	t.Run("no scores", func(t *testing.T) {
		got := Quality("I liked it.")
		if got.Strategy != StrategyFallback || got.Value.Overall != 0 {
			t.Errorf("expected fallback zero score, got %s %v", got.Strategy, got.Value.Overall)
		}
	})
}

func TestFindings(t *testing.T) {
	if got := Findings("No clear conflicts found.", "x"); len(got.Value) != 0 {
		t.Errorf("expected no findings, got %+v", got.Value)
	}

	raw := `BEGIN CONFLICT:
Type: Plot Contradiction
Description: Tov is dead but speaks.
Severity: High
Excerpt: "Tov said goodbye."
Suggestion: "Mira said goodbye."
END CONFLICT.`
	got := Findings(raw, "x")
	if len(got.Value) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(got.Value))
	}
	if got.Value[0].Excerpt != "Tov said goodbye." || got.Value[0].Suggestion != "Mira said goodbye." {
		t.Errorf("expected quotes trimmed, got %+v", got.Value[0])
	}

	loose := Findings("The sword changes hands twice.", "opening text")
	if loose.Strategy != StrategyFallback || loose.Value[0].Excerpt != "opening text" {
		t.Errorf("unexpected fallback: %+v", loose)
	}
}

func TestList(t *testing.T) {
	got := List("1. one\n\n* two\n- three\nfour")
	want := []string{"one", "two", "three", "four"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
