package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orchestra-core/orchestra/internal/config"
	"github.com/orchestra-core/orchestra/internal/orchestrator"
	"github.com/orchestra-core/orchestra/pkg/models"
)

var (
	submitSession string
	submitNoWait  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <batch.yaml>",
	Short: "Submit a batch definition and run it to completion",
	Long: `Parses a batch definition file, validates its dependency graph, and
executes it in-process. By default the command blocks until the batch
reaches a terminal status and exits non-zero unless every task completed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runSubmit(cfg, args[0])
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitSession, "session", "", "Session ID to bind the batch's results to")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "Submit and exit without waiting for the batch to finish")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cfg *config.Config, path string) error {
	def, err := readBatchDefinition(path)
	if err != nil {
		return err
	}

	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	defer sys.close()

	if err := sys.registerLocalAgent(); err != nil {
		return err
	}

	batch, err := sys.service.Submit(def, submitSession)
	if err != nil {
		return err
	}
	fmt.Printf("batch %s submitted (%d tasks, policy %s)\n", batch.ID, len(batch.TaskIDs), batch.FailurePolicy)

	if submitNoWait {
		return nil
	}

	status := waitForBatch(sys, batch.ID)
	snap, err := sys.service.BatchStatus(batch.ID)
	if err != nil {
		return err
	}
	printBatch(snap)

	if status != models.BatchStatusCompleted {
		return fmt.Errorf("batch %s finished %s", batch.ID, status)
	}
	return nil
}

// waitForBatch consumes pool events until the batch is done, echoing task
// progress along the way.
func waitForBatch(sys *system, batchID string) models.BatchStatus {
	for event := range sys.pool.Events() {
		if event.BatchID != batchID {
			continue
		}
		switch event.Type {
		case orchestrator.EventTaskStarted:
			fmt.Printf("  %s started on %s\n", event.TaskID, event.AgentID)
		case orchestrator.EventTaskCompleted:
			fmt.Printf("  %s completed\n", event.TaskID)
		case orchestrator.EventTaskFailed:
			fmt.Printf("  %s failed: %v\n", event.TaskID, event.Error)
		case orchestrator.EventTaskCancelled:
			fmt.Printf("  %s cancelled: %s\n", event.TaskID, event.Message)
		case orchestrator.EventTaskRetried:
			fmt.Printf("  %s retrying (attempt %d)\n", event.TaskID, event.Attempt)
		case orchestrator.EventBatchDone:
			return event.BatchStatus
		}
	}
	return models.BatchStatusPending
}

// printBatch renders a batch snapshot as a table.
func printBatch(snap *orchestrator.BatchSnapshot) {
	fmt.Printf("\nbatch %s: %s\n", snap.Batch.ID, snap.Batch.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tATTEMPT\tOUTCOME\tDETAIL")
	for _, task := range snap.Tasks {
		outcome, detail := "", ""
		if env := snap.Results[task.ID]; env != nil {
			outcome = string(env.Outcome)
			detail = env.ErrorDetail
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", task.ID, task.Status, task.Attempt, outcome, detail)
	}
	w.Flush()
}
