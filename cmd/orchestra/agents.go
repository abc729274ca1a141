package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orchestra-core/orchestra/internal/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the agents this configuration would register",
	Long: `Lists the local agent and the connector capabilities it carries under
the current configuration. The llm capability appears only when an Anthropic
API key is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runAgents(cfg)
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cfg *config.Config) error {
	capabilities := []string{"shell", "echo"}
	if cfg.Anthropic.APIKey != "" {
		capabilities = append(capabilities, "llm")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tCAPABILITIES\tSLOTS")
	fmt.Fprintf(w, "%s\t%s\t%d\n", localAgentID, strings.Join(capabilities, ","), cfg.Workers.Size)
	return w.Flush()
}
