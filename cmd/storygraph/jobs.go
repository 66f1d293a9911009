package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/storygraph/novel"
)

// withApp loads the config, opens the collaborators and runs fn.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, mgr.Get(), opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, a)
}

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show a job's status and pending decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			sum, err := a.ctrl.Status(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderSummary(sum))
			d, err := a.ctrl.NextDecision(ctx, args[0])
			if err != nil {
				return err
			}
			if d != nil {
				fmt.Fprintln(out, renderDecision(*d))
			}
			return nil
		})
	},
}

type listOptions struct {
	status string
	limit  int
}

var listFlags listOptions

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			jobs, err := a.ctrl.List(ctx, listFlags.status, listFlags.limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		})
	},
}

type chaptersOptions struct {
	full bool
}

var chaptersFlags chaptersOptions

var chaptersCmd = &cobra.Command{
	Use:   "chapters JOB_ID",
	Short: "Print a job's written chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			chapters, err := a.ctrl.Chapters(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderChapters(chapters, chaptersFlags.full))
			return nil
		})
	},
}

type resumeOptions struct {
	decisionType string
	selected     string
	action       string
	conflict     string
	suggestion   string
	editFile     string
	customData   string
	chapter      int
}

var resumeFlags resumeOptions

var resumeCmd = &cobra.Command{
	Use:   "resume JOB_ID",
	Short: "Answer a paused job's decision and continue it",
	Long: `Answer the decision a paused job is waiting for and drive it to the next
pause or to completion.

Examples:
  storygraph resume JOB --type outline_selection --select 1
  storygraph resume JOB --type conflict_review --action apply_suggestion --conflict ID --suggestion 0
  storygraph resume JOB --type conflict_review --action rewrite_all
  storygraph resume JOB --type manual_chapter_review --chapter 3 --action submit_edit --edit-file ch3.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := novel.DecisionType(resumeFlags.decisionType)
		if !t.Valid() {
			return fmt.Errorf("unknown decision type %q", resumeFlags.decisionType)
		}
		idx, err := parseSuggestionIndex(resumeFlags.suggestion)
		if err != nil {
			return err
		}
		var edited string
		if resumeFlags.editFile != "" {
			raw, err := os.ReadFile(resumeFlags.editFile)
			if err != nil {
				return fmt.Errorf("read edit file: %w", err)
			}
			edited = string(raw)
		}
		var custom json.RawMessage
		if resumeFlags.customData != "" {
			if !json.Valid([]byte(resumeFlags.customData)) {
				return fmt.Errorf("--custom-data is not valid JSON")
			}
			custom = json.RawMessage(resumeFlags.customData)
		}

		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			id := args[0]
			var status novel.Status
			if t == novel.DecisionManualReview {
				chapter := resumeFlags.chapter
				if chapter == 0 {
					d, err := a.ctrl.NextDecision(ctx, id)
					if err != nil {
						return err
					}
					if d != nil {
						chapter = d.Chapter
					}
				}
				status, err = a.ctrl.ManualReview(ctx, id, chapter, resumeFlags.action, edited, nil)
			} else {
				status, err = a.ctrl.Resume(ctx, id, t, novel.DecisionPayload{
					Action:          resumeFlags.action,
					SelectedID:      resumeFlags.selected,
					ConflictID:      resumeFlags.conflict,
					SuggestionIndex: idx,
					EditedContent:   edited,
					CustomData:      custom,
				}, nil)
			}
			if err != nil {
				return err
			}

			sum, err := a.ctrl.Status(context.WithoutCancel(ctx), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderSummary(sum))
			if status.Kind == novel.StatusPaused {
				if d, err := a.ctrl.NextDecision(ctx, id); err == nil && d != nil {
					fmt.Fprintln(out, renderDecision(*d))
				}
			}
			return nil
		})
	},
}

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.ctrl.Cancel(ctx, args[0], cancelReason); err != nil {
				return err
			}
			sum, err := a.ctrl.Status(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			return nil
		})
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export JOB_ID",
	Short: "Write a job's versioned snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			data, err := a.ctrl.Export(ctx, args[0])
			if err != nil {
				return err
			}
			if exportOut == "" || exportOut == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(exportOut, data, 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("snapshot written to "+exportOut))
			return nil
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listFlags.status, "status", "", "only jobs with this exact status")
	listCmd.Flags().IntVar(&listFlags.limit, "limit", 50, "maximum jobs to list")

	chaptersCmd.Flags().BoolVar(&chaptersFlags.full, "full", false, "print chapter content")

	f := resumeCmd.Flags()
	f.StringVar(&resumeFlags.decisionType, "type", "", "decision type the job is waiting for (required)")
	f.StringVar(&resumeFlags.selected, "select", "", "option id for selection decisions")
	f.StringVar(&resumeFlags.action, "action", "", "conflict or review action")
	f.StringVar(&resumeFlags.conflict, "conflict", "", "conflict id for apply_suggestion and ignore")
	f.StringVar(&resumeFlags.suggestion, "suggestion", "", "suggestion index for apply_suggestion")
	f.StringVar(&resumeFlags.editFile, "edit-file", "", "file with the edited chapter for submit_edit")
	f.StringVar(&resumeFlags.customData, "custom-data", "", "raw JSON attached to the decision")
	f.IntVar(&resumeFlags.chapter, "chapter", 0, "chapter under manual review (default: the pending one)")
	_ = resumeCmd.MarkFlagRequired("type")

	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded on the job")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(statusCmd, listCmd, chaptersCmd, resumeCmd, cancelCmd, exportCmd)
}
