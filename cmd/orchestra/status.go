package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orchestra-core/orchestra/internal/config"
	"github.com/orchestra-core/orchestra/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show the stored state of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runStatus(cfg, args[0])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cfg *config.Config, batchID string) error {
	db, err := state.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	batch, err := db.LoadBatch(batchID)
	if err != nil {
		return err
	}
	tasks, err := db.TasksForBatch(batchID)
	if err != nil {
		return err
	}

	fmt.Printf("batch %s: %s (policy %s, concurrency %d)\n",
		batch.ID, batch.Status, batch.FailurePolicy, batch.Concurrency)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tATTEMPT\tAGENT\tOUTCOME\tDETAIL")
	for _, task := range tasks {
		outcome, detail := "", ""
		if task.Status.Terminal() {
			if env, err := db.LoadResult(task.ID); err == nil {
				outcome = string(env.Outcome)
				detail = env.ErrorDetail
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			task.ID, task.Status, task.Attempt, task.AssignedTo, outcome, detail)
	}
	return w.Flush()
}
