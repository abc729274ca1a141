package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orchestra",
	Short: "Dependency-aware batch execution engine",
	Long: `Orchestra executes batches of dependency-related tasks across a pool
of agents.

A batch is a set of tasks with dependency edges between them. Orchestra
builds the dependency graph, schedules eligible tasks onto capability-matched
agents through a durable queue, retries transient failures, applies the
batch's failure policy, and routes every result back to the session that
submitted it.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
