package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/storygraph/novel"
)

type runOptions struct {
	theme         string
	style         string
	chapters      int
	words         int
	auto          bool
	embedded      bool
	manualReview  bool
	twistAt       int
	branchAt      int
	branchLength  int
	optionCount   int
	threshold     float64
	history       bool
	showChapters  bool
	plainPrompts  bool
	policyPrefers string
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a novel in this process",
	Long: `Submit a job and drive it in this process.

With --auto every decision is made by the automatic policy. With --embedded
each decision is asked interactively in the terminal. Otherwise the job
pauses at the first decision; answer it with "storygraph resume" against a
persistent store (store.driver sqlite or mysql).

Examples:
  storygraph run --theme "a lighthouse keeper's last winter" --chapters 5 --auto
  storygraph run --theme "tidal cities" --embedded --manual-review
  storygraph run --theme "glass deserts" --auto --twist-at 3 --history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		job := novel.JobConfig{
			Theme:            runFlags.theme,
			Style:            runFlags.style,
			Chapters:         runFlags.chapters,
			WordsPerChapter:  runFlags.words,
			AutoMode:         runFlags.auto,
			ManualReview:     runFlags.manualReview,
			TwistAtChapter:   runFlags.twistAt,
			BranchAtChapter:  runFlags.branchAt,
			BranchLength:     runFlags.branchLength,
			OptionCount:      runFlags.optionCount,
			QualityThreshold: runFlags.threshold,
			InteractionMode:  novel.InteractionRemote,
		}
		opts := appOptions{history: runFlags.history}
		if runFlags.embedded {
			job.InteractionMode = novel.InteractionEmbedded
			accessible := runFlags.plainPrompts || !isTerminal(os.Stdin)
			opts.prompter = formPrompter{accessible: accessible}
		}
		cfg.Pipeline.Apply(&job)

		a, err := newApp(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

		id, err := a.ctrl.Submit(ctx, job)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, mutedStyle.Render("job "+id))

		var policy novel.Policy
		if runFlags.policyPrefers != "" {
			policy = preferPolicy(runFlags.policyPrefers, novel.DefaultPolicy{Logger: a.logger})
		}
		status, runErr := a.ctrl.Run(ctx, id, policy)

		if a.history != nil {
			ids := a.history.RunIDs(id + "/")
			sort.Strings(ids)
			for _, runID := range ids {
				fmt.Fprintln(out, titleStyle.Render(runID))
				fmt.Fprintln(out, renderHistory(a.history.GetHistory(runID)))
			}
		}

		sum, err := a.ctrl.Status(context.WithoutCancel(ctx), id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderSummary(sum))

		if status.Kind == novel.StatusPaused {
			d, err := a.ctrl.NextDecision(ctx, id)
			if err == nil && d != nil {
				fmt.Fprintln(out, renderDecision(*d))
			}
			if cfg.Store.Driver == "memory" {
				fmt.Fprintln(out, mutedStyle.Render("the memory store is discarded on exit; configure sqlite or mysql to resume this job"))
			} else {
				fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("resume with: storygraph resume %s --type %s --select <id>", id, status.DecisionType)))
			}
		}
		if runFlags.showChapters {
			chapters, err := a.ctrl.Chapters(context.WithoutCancel(ctx), id)
			if err == nil && len(chapters) > 0 {
				fmt.Fprintln(out, renderChapters(chapters, true))
			}
		}
		return runErr
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.theme, "theme", "", "theme of the novel (required)")
	f.StringVar(&runFlags.style, "style", "", "writing style guidance")
	f.IntVar(&runFlags.chapters, "chapters", 0, "number of chapters (default pipeline.chapters)")
	f.IntVar(&runFlags.words, "words", 0, "target words per chapter")
	f.BoolVar(&runFlags.auto, "auto", false, "decide everything automatically")
	f.BoolVar(&runFlags.embedded, "embedded", false, "answer decisions interactively in this terminal")
	f.BoolVar(&runFlags.manualReview, "manual-review", false, "review every chapter before continuing")
	f.IntVar(&runFlags.twistAt, "twist-at", 0, "offer a plot twist after this chapter (0 disables)")
	f.IntVar(&runFlags.branchAt, "branch-at", 0, "offer a plot branch before this chapter (0 disables)")
	f.IntVar(&runFlags.branchLength, "branch-length", 0, "chapters covered by a branch")
	f.IntVar(&runFlags.optionCount, "options", 0, "options generated per decision")
	f.Float64Var(&runFlags.threshold, "threshold", 0, "minimum chapter quality score (0-10)")
	f.StringVar(&runFlags.policyPrefers, "prefer", "", "auto policy: prefer options whose summary contains this text")
	f.BoolVar(&runFlags.history, "history", false, "print the node trace of every invocation")
	f.BoolVar(&runFlags.showChapters, "show-chapters", false, "print the written chapters")
	f.BoolVar(&runFlags.plainPrompts, "plain-prompts", false, "use plain accessible prompts")
	_ = runCmd.MarkFlagRequired("theme")
	runCmd.MarkFlagsMutuallyExclusive("auto", "embedded")

	rootCmd.AddCommand(runCmd)
}

// preferPolicy picks the first option whose summary contains text, case
// insensitively, and defers to fallback otherwise and for score threshold
// decisions.
func preferPolicy(text string, fallback novel.Policy) novel.Policy {
	needle := strings.ToLower(text)
	return novel.PolicyFunc(func(options []novel.DecisionOption, dc novel.DecisionContext) (novel.DecisionOption, bool) {
		if dc.Mode == "" {
			for _, o := range options {
				if strings.Contains(strings.ToLower(o.Summary), needle) {
					return o, true
				}
			}
		}
		return fallback.Decide(options, dc)
	})
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
