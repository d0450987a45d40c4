package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querydesk/internal/tui"
)

// NewTUICommand creates the interactive terminal workbench command.
func NewTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive terminal workbench",
		Long: `Open a full-screen workbench with tabbed editors, live execution
status and paged results. Queries keep running while you switch tabs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return w.session.Run(ctx)
			})

			program := tea.NewProgram(
				tui.NewModel(w.session),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			g.Go(func() error {
				defer cancel()
				_, err := program.Run()
				if err != nil && ctx.Err() != nil {
					return nil
				}
				return err
			})

			if err := g.Wait(); err != nil {
				return fmt.Errorf("workbench exited: %w", err)
			}
			return nil
		},
	}
}
