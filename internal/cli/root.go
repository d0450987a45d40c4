// Package cli provides the command-line interface for QueryDesk.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydesk/internal/cli/commands"
	"github.com/leapstack-labs/querydesk/internal/cli/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "querydesk",
		Short: "QueryDesk - workbench for a remote SQL execution service",
		Long: `QueryDesk is a tabbed workbench for a remote asynchronous SQL
execution service. It submits queries, tracks their lifecycle over a
push stream with polling fallback, pages through results, and keeps
your tabs across restarts.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./querydesk.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "", "Base URL of the query service")
	rootCmd.PersistentFlags().String("token", "", "Session bearer token")
	rootCmd.PersistentFlags().String("csrf-token", "", "CSRF token for mutating requests")
	rootCmd.PersistentFlags().StringSliceP("datasource", "d", nil, "Permitted datasource ids (repeatable)")
	rootCmd.PersistentFlags().String("workspace", "", "Path of the workspace file or database")
	rootCmd.PersistentFlags().String("backend", "", "Workspace backend (json|sqlite)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("backend", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{config.BackendJSON, config.BackendSQLite}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewREPLCommand())
	rootCmd.AddCommand(commands.NewTabsCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewCancelCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewTUICommand())

	return rootCmd
}

// Execute runs the root command with signal-aware context handling.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
