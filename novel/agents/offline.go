package agents

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/storygraph/graph/model"
	"github.com/dshills/storygraph/novel/parse"
)

var (
	offlineTheme    = regexp.MustCompile(`(?m)^Theme: (.*)$`)
	offlineIndex    = regexp.MustCompile(`(?:outline|world) (\d+) of`)
	offlineTotal    = regexp.MustCompile(`Plan a novel of exactly (\d+) chapters`)
	offlineChapter  = regexp.MustCompile(`writing chapter (\d+) of`)
	offlineCount    = regexp.MustCompile(`Propose (\d+)`)
	offlineBranch   = regexp.MustCompile(`each covering chapters (\d+) to (\d+)`)
	offlineRegen    = regexp.MustCompile(`Re-plan chapters (\d+) to (\d+)`)
	offlineRewrites = regexp.MustCompile(`Write (\d+) alternative versions`)
	offlinePassage  = regexp.MustCompile(`(?s)Passage:\n(.*?)\n\nSurrounding`)
)

// NewOfflineModel returns a ChatModel that answers every pipeline prompt
// with deterministic, well-formed text. It lets the whole pipeline run
// without network access or credentials.
func NewOfflineModel() *model.MockChatModel {
	return &model.MockChatModel{Handler: func(messages []model.Message) (model.ChatOut, error) {
		var prompt string
		for _, m := range messages {
			if m.Role == model.RoleUser {
				prompt = m.Content
			}
		}
		return model.ChatOut{Text: offlineReply(prompt)}, nil
	}}
}

func offlineReply(prompt string) string {
	theme := "an unnamed theme"
	if m := offlineTheme.FindStringSubmatch(prompt); m != nil && strings.TrimSpace(m[1]) != "" {
		theme = strings.TrimSpace(m[1])
	}
	first, _, _ := strings.Cut(prompt, "\n")

	switch {
	case strings.HasPrefix(first, "You are a creative novel planner."):
		i := atoi(offlineIndex, prompt, 1)
		return fmt.Sprintf("Outline %d. A story about %s: an unlikely hero is drawn into a conflict that tests "+
			"everything they believe, and must choose between safety and truth.", i, theme)

	case strings.HasPrefix(first, "You are a world builder."):
		i := atoi(offlineIndex, prompt, 1)
		return fmt.Sprintf("World %d. A coastal realm shaped by %s, where old institutions guard secrets "+
			"and every town keeps a ledger of debts owed to the sea.", i, theme)

	case strings.HasPrefix(first, "You are a master storyteller"):
		return offlinePlan(1, atoi(offlineTotal, prompt, 1), "Chapter")

	case strings.HasPrefix(first, "You are a character designer."):
		n := atoi(offlineCount, prompt, 2)
		var b strings.Builder
		names := [][2]string{{"Mara", "Ilo"}, {"Tev", "Sabine"}, {"Orrin", "Kael"}}
		for i := 0; i < n; i++ {
			pair := names[i%len(names)]
			fmt.Fprintf(&b, "BEGIN CHARACTER SET:\nCharacter 1:\nName: %s\nDescription: A stubborn seeker.\nRole: Protagonist\n"+
				"Character 2:\nName: %s\nDescription: A loyal rival.\nRole: Deuteragonist\nEND CHARACTER SET.\n", pair[0], pair[1])
		}
		return b.String()

	case strings.HasPrefix(first, "You are a novelist writing chapter"):
		n := atoi(offlineChapter, prompt, 1)
		return fmt.Sprintf("Title: Chapter %d\nContent: The events of chapter %d unfold. The hero presses on, "+
			"and the cost of the journey becomes clear.\nSummary: Chapter %d moves the story forward.", n, n, n)

	case strings.HasPrefix(first, "You are a plot twist specialist."):
		return "BEGIN PLOT TWIST OPTION:\nTitle: The ally betrays\nCore_Scene_Summary: A trusted friend was working against the hero all along.\nEND PLOT TWIST OPTION.\n" +
			"BEGIN PLOT TWIST OPTION:\nTitle: The map is false\nCore_Scene_Summary: The goal the hero pursued never existed.\nEND PLOT TWIST OPTION."

	case strings.HasPrefix(first, "You are a narrative branching designer."):
		m := offlineBranch.FindStringSubmatch(prompt)
		if m == nil {
			return ""
		}
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		var b strings.Builder
		for _, theme := range []string{"The long way round", "Straight into danger"} {
			fmt.Fprintf(&b, "BEGIN PLOT BRANCH OPTION:\nBranch_Theme: %s\n", theme)
			for c := start; c <= end; c++ {
				fmt.Fprintf(&b, "Chapter_Number: %d\nTitle: %s, part %d\nCore_Scene_Summary: The story takes a new turn.\n", c, theme, c-start+1)
			}
			b.WriteString("END PLOT BRANCH OPTION.\n")
		}
		return b.String()

	case strings.HasPrefix(first, "You are a plot regeneration specialist."):
		m := offlineRegen.FindStringSubmatch(prompt)
		if m == nil {
			return ""
		}
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		return offlinePlan(start, end, "Revised chapter")

	case strings.HasPrefix(first, "You are a literary critic"):
		var b strings.Builder
		for _, d := range parse.Dimensions {
			fmt.Fprintf(&b, "%s: 8\n", d)
		}
		b.WriteString("Overall Score: 8\nJustification: Clear, steady and consistent with the plan.")
		return b.String()

	case strings.HasPrefix(first, "You are a continuity editor."):
		return "No clear conflicts found."

	case strings.HasPrefix(first, "You are a fiction editor."):
		passage := "the passage"
		if m := offlinePassage.FindStringSubmatch(prompt); m != nil {
			passage = strings.TrimSpace(m[1])
		}
		n := atoi(offlineRewrites, prompt, 2)
		var b strings.Builder
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&b, "%d. %s (revision %d)\n", i, passage, i)
		}
		return b.String()
	}
	return "No reply."
}

func offlinePlan(start, end int, title string) string {
	var b strings.Builder
	for n := start; n <= end; n++ {
		fmt.Fprintf(&b, "BEGIN CHAPTER %d:\nTitle: %s %d\nCore_Scene_Summary: The story advances in chapter %d.\n"+
			"Characters_Present: Mara\nEND CHAPTER %d:\n", n, title, n, n, n)
	}
	return b.String()
}

func atoi(re *regexp.Regexp, s string, def int) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return def
	}
	return n
}
