package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCancelCommand creates the cancel command. It talks to the server
// directly by execution id; cancellation of the tab-tracked execution
// happens inside the run/repl/tui flows.
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Request cancellation of a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			client, err := newAPIClient(cfg, loggerFrom(cmd))
			if err != nil {
				return err
			}

			state, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %s is now %s\n", args[0], state.Status)
			return nil
		},
	}
}
