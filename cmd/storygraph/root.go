package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/storygraph/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "storygraph",
	Short: "Novel generation pipeline with human-in-the-loop decisions",
	Long: `storygraph writes novels chapter by chapter with a text generation model.

The pipeline proposes outlines, worlds and casts, plans the plot, drafts and
scores each chapter, detects continuity conflicts and keeps a per-job
knowledge base. Jobs either decide everything automatically or pause for a
human at every choice point. Paused jobs are resumed over HTTP (serve) or
from the command line (resume) when a persistent store is configured.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storygraph/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Manager, error) {
	m, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m, nil
}
