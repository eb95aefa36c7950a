package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for crawlctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlctl",
		Short: "Run and debug serpcrawl jobs without the HTTP service",
		Long: `crawlctl drives the crawl orchestrator directly. Jobs run in-process with
an in-memory store; configuration comes from the same SERPCRAWL_* environment
variables and .env file as the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewDetectCmd())
	cmd.AddCommand(NewDecodeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
