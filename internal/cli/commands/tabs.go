package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewTabsCommand creates the tabs command group.
func NewTabsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "Manage workspace tabs",
	}

	cmd.AddCommand(newTabsListCommand())
	cmd.AddCommand(newTabsNewCommand())
	cmd.AddCommand(newTabsCloseCommand())
	cmd.AddCommand(newTabsRenameCommand())
	cmd.AddCommand(newTabsUseCommand())
	return cmd
}

func newTabsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspace tabs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			activeID := wb.registry.ActiveTabID()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "", "Title", "Datasource", "Query"})
			for i, tab := range wb.registry.Tabs() {
				marker := ""
				if tab.ID == activeID {
					marker = "*"
				}
				t.AppendRow(table.Row{i + 1, marker, tab.Title, tab.DatasourceID, snippet(tab.QueryText, 48)})
			}
			t.Render()
			return nil
		},
	}
}

func newTabsNewCommand() *cobra.Command {
	var datasource string

	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a new tab and make it active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			title := ""
			if len(args) > 0 {
				title = args[0]
			}
			id := wb.registry.CreateTab(datasource, title, "")
			tab, _ := wb.registry.Get(id)
			fmt.Fprintf(cmd.OutOrStdout(), "Created tab %q (%s)\n", tab.Title, shortID(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&datasource, "on", "", "Datasource for the new tab")
	return cmd
}

func newTabsCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <tab>",
		Short: "Close a tab by position or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			tab, err := resolveTab(wb.registry, args[0])
			if err != nil {
				return err
			}
			wb.registry.CloseTab(tab.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Closed tab %q\n", tab.Title)
			return nil
		},
	}
}

func newTabsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <tab> <title>",
		Short: "Rename a tab",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			tab, err := resolveTab(wb.registry, args[0])
			if err != nil {
				return err
			}
			title := strings.TrimSpace(args[1])
			if title == "" {
				return fmt.Errorf("new title is empty")
			}
			wb.registry.RenameTab(tab.ID, title)
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed tab to %q\n", title)
			return nil
		},
	}
}

func newTabsUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <tab>",
		Short: "Select the active tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			tab, err := resolveTab(wb.registry, args[0])
			if err != nil {
				return err
			}
			wb.registry.SetActiveTab(tab.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Active tab is now %q\n", tab.Title)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
