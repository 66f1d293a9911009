package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/storygraph/config"
	"github.com/dshills/storygraph/novel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// resetFlags restores flag defaults; cobra keeps parsed values between
// executions of the same command tree.
func resetFlags() {
	runFlags = runOptions{}
	resumeFlags = resumeOptions{}
	listFlags = listOptions{limit: 50}
	chaptersFlags = chaptersOptions{}
	cancelReason = ""
	exportOut = ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunAutoThenInspect(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "jobs.db")
	cfg := writeConfig(t, `
log:
  level: error
store:
  driver: sqlite
  path: `+db+`
llm:
  provider: mock
metrics:
  enabled: false
`)

	out, err := execute(t, "run", "--config", cfg, "--theme", "tidal archives", "--chapters", "2", "--auto")
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")

	out, err = execute(t, "list", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "tidal archives")
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	id := fields[0]

	out, err = execute(t, "chapters", "--config", cfg, id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Chapter 1")
	assert.Contains(t, out, "Chapter 2")

	snapshot := filepath.Join(dir, "snapshot.json")
	_, err = execute(t, "export", "--config", cfg, "-o", snapshot, id)
	require.NoError(t, err)
	raw, err := os.ReadFile(snapshot)
	require.NoError(t, err)
	s, err := novel.DecodeSnapshot(raw)
	require.NoError(t, err)
	assert.Len(t, s.State.WrittenChapters, 2)

	_, err = execute(t, "cancel", "--config", cfg, id)
	assert.ErrorIs(t, err, novel.ErrPrecondition)
}

func TestRunRemoteThenResume(t *testing.T) {
	db := filepath.Join(t.TempDir(), "jobs.db")
	cfg := writeConfig(t, `
log:
  level: error
store:
  driver: sqlite
  path: `+db+`
`)

	out, err := execute(t, "run", "--config", cfg, "--theme", "quiet moons", "--chapters", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "paused_for_outline_selection")
	assert.Contains(t, out, "storygraph resume")

	out, err = execute(t, "list", "--config", cfg, "--status", "paused_for_outline_selection")
	require.NoError(t, err, out)
	id := strings.Fields(out)[0]

	_, err = execute(t, "resume", "--config", cfg, id, "--type", "worldview_selection", "--select", "0")
	assert.ErrorIs(t, err, novel.ErrPrecondition)

	out, err = execute(t, "resume", "--config", cfg, id, "--type", "outline_selection", "--select", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "paused_for_worldview_selection")

	out, err = execute(t, "status", "--config", cfg, id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "worldview_selection")
}

func TestDecisionChoices(t *testing.T) {
	conflict := novel.Conflict{ID: "c1", Description: "Mara is dead but speaks", Suggestions: []string{"Cut the line", "Make it a memory"}}
	data, err := json.Marshal(conflict)
	require.NoError(t, err)

	choices := decisionChoices(novel.PendingDecision{
		Type:    novel.DecisionConflict,
		Options: []novel.DecisionOption{{ID: "c1", Summary: "x", Data: data}},
	})
	require.Len(t, choices, 5)
	assert.Equal(t, novel.ActionApplySuggestion, choices[1].payload.Action)
	require.NotNil(t, choices[1].payload.SuggestionIndex)
	assert.Equal(t, 1, *choices[1].payload.SuggestionIndex)
	assert.Equal(t, "c1", choices[2].payload.ConflictID)
	assert.Equal(t, novel.ActionIgnore, choices[2].payload.Action)
	assert.Equal(t, novel.ActionRewriteAll, choices[3].payload.Action)
	assert.Equal(t, novel.ActionProceedRemaining, choices[4].payload.Action)

	review := decisionChoices(novel.PendingDecision{
		Type: novel.DecisionManualReview,
		Options: []novel.DecisionOption{
			{ID: novel.ActionUseAsIs, Summary: "keep"},
			{ID: novel.ActionSubmitEdit, Summary: "edit"},
		},
	})
	require.Len(t, review, 2)
	assert.Equal(t, novel.ActionSubmitEdit, review[1].payload.Action)

	outline := decisionChoices(novel.PendingDecision{
		Type:    novel.DecisionOutline,
		Options: []novel.DecisionOption{{ID: "0", Summary: "a"}, {ID: "1", Summary: "b"}},
	})
	require.Len(t, outline, 2)
	assert.Equal(t, "1", outline[1].payload.SelectedID)
	assert.Equal(t, "1: b", outline[1].label)
}

func TestReviewContent(t *testing.T) {
	data, err := json.Marshal(novel.Chapter{Number: 2, Content: "Original text."})
	require.NoError(t, err)
	d := novel.PendingDecision{Options: []novel.DecisionOption{{ID: novel.ActionUseAsIs, Data: data}, {ID: novel.ActionSubmitEdit}}}
	assert.Equal(t, "Original text.", reviewContent(d))
	assert.Empty(t, reviewContent(novel.PendingDecision{}))
}

func TestPreferPolicy(t *testing.T) {
	options := []novel.DecisionOption{{ID: "0", Summary: "A desert story"}, {ID: "1", Summary: "An OCEAN story"}}
	p := preferPolicy("ocean", novel.DefaultPolicy{})

	got, ok := p.Decide(options, novel.DecisionContext{Type: novel.DecisionOutline})
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)

	got, _ = p.Decide(options[:1], novel.DecisionContext{})
	assert.Equal(t, "0", got.ID)

	score, threshold := 3.0, 7.0
	got, _ = p.Decide(options, novel.DecisionContext{Mode: novel.ModeScoreThreshold, Score: &score, Threshold: &threshold, Operator: ">="})
	assert.Equal(t, "1", got.ID)
}

func TestParseSuggestionIndex(t *testing.T) {
	idx, err := parseSuggestionIndex("")
	require.NoError(t, err)
	assert.Nil(t, idx)

	idx, err = parseSuggestionIndex("2")
	require.NoError(t, err)
	assert.Equal(t, 2, *idx)

	_, err = parseSuggestionIndex("-1")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNewGenerator(t *testing.T) {
	_, err := newGenerator(config.LLMConfig{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	gen, err := newGenerator(config.LLMConfig{Provider: "mock"}, nil)
	require.NoError(t, err)
	text, err := gen.GenerateText(context.Background(), "You are a world builder.\nDesign world 2 of 2 for a novel.\n\nTheme: dunes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "World 2."), text)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("a\n  b", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
