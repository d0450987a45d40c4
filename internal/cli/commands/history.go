package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command group. History requires
// the sqlite workspace backend.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			if wb.history == nil {
				return errors.New("query history requires the sqlite workspace backend")
			}

			entries, err := wb.history.ListHistory(limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "When", "Datasource", "Status", "Query"})
			for i, e := range entries {
				t.AppendRow(table.Row{
					i + 1,
					e.ExecutedAt.Format("2006-01-02 15:04:05"),
					e.DatasourceID,
					e.Status,
					snippet(e.SQL, 48),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum entries to show")

	cmd.AddCommand(newHistoryOpenCommand())
	return cmd
}

func newHistoryOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open <n>",
		Short: "Open a history entry in a new tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid history entry %q", args[0])
			}

			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			if wb.history == nil {
				return errors.New("query history requires the sqlite workspace backend")
			}

			entries, err := wb.history.ListHistory(n)
			if err != nil {
				return err
			}
			if n > len(entries) {
				return fmt.Errorf("no history entry %d (have %d)", n, len(entries))
			}

			entry := entries[n-1]
			id := wb.registry.CreateTab(entry.DatasourceID, snippet(entry.SQL, 32), entry.SQL)
			tab, _ := wb.registry.Get(id)
			fmt.Fprintf(cmd.OutOrStdout(), "Opened tab %q (%s)\n", tab.Title, shortID(id))
			return nil
		},
	}
}
