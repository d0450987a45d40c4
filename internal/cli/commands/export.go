package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command, streaming the full
// result set of an execution from the server as CSV.
func NewExportCommand() *cobra.Command {
	var (
		output  string
		headers bool
	)

	cmd := &cobra.Command{
		Use:   "export <execution-id>",
		Short: "Export an execution's full result set as CSV",
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

			if output == "" || output == "-" {
				_, err := client.ExportCSV(cmd.Context(), args[0], headers, cmd.OutOrStdout())
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer func() { _ = f.Close() }()

			filename, err := client.ExportCSV(cmd.Context(), args[0], headers, f)
			if err != nil {
				return err
			}
			if filename != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s (server name %s)\n", output, filename)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&headers, "headers", true, "Include column headers")
	return cmd
}
