package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querydesk/internal/session"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		execute    string
		sqlFile    string
		datasource string
		explain    bool
		csvOut     bool
		headers    bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a query and wait for the first page of results",
		Long: `Run submits SQL on the active tab, tracks the execution until it
reaches a terminal status, and prints the first page of results.

The SQL comes from --execute, --file, or stdin, in that order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sqlText, err := readSQL(cmd, execute, sqlFile)
			if err != nil {
				return err
			}

			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			tab, ok := wb.registry.ActiveTab()
			if !ok {
				return errors.New("workspace has no active tab")
			}
			if datasource != "" {
				wb.registry.SetDatasource(tab.ID, datasource)
				if t, _ := wb.registry.Get(tab.ID); t.DatasourceID != datasource {
					return fmt.Errorf("datasource %q is not available", datasource)
				}
			}
			wb.registry.SetQueryText(tab.ID, sqlText)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			eg, egctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return wb.session.Run(egctx)
			})

			kind := session.RunKindQuery
			if explain {
				kind = session.RunKindExplain
			}
			if err := wb.session.Controller.Run(egctx, tab.ID, sqlText, kind); err != nil {
				cancel()
				_ = eg.Wait()
				return err
			}

			waitCtx, waitCancel := context.WithTimeout(egctx, timeout)
			defer waitCancel()
			final, err := wb.session.AwaitTerminal(waitCtx, tab.ID)

			cancel()
			_ = eg.Wait()

			if err != nil {
				return fmt.Errorf("gave up waiting for execution %s: %w", final.Exec.ID, err)
			}

			out := cmd.OutOrStdout()
			switch final.Exec.Status {
			case query.StatusSucceeded:
				if csvOut {
					return session.WritePageCSV(out, final.Page, headers)
				}
				renderPage(out, final)
				return nil
			case query.StatusCanceled:
				fmt.Fprintln(out, "Execution was canceled.")
				return nil
			case query.StatusFailed:
				return fmt.Errorf("execution failed: %s", final.Exec.ErrorSummary)
			default:
				return fmt.Errorf("execution %s did not finish: %s", final.Exec.ID, final.Exec.Status)
			}
		},
	}

	cmd.Flags().StringVarP(&execute, "execute", "e", "", "SQL text to run")
	cmd.Flags().StringVarP(&sqlFile, "file", "f", "", "File containing the SQL to run")
	cmd.Flags().StringVar(&datasource, "on", "", "Datasource to run against (defaults to the tab's)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Submit as an explain run")
	cmd.Flags().BoolVar(&csvOut, "csv", false, "Print the page as CSV instead of a table")
	cmd.Flags().BoolVar(&headers, "headers", true, "Include column headers in CSV output")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for a terminal status")

	return cmd
}

// readSQL resolves the statement text from flag, file, or stdin.
func readSQL(cmd *cobra.Command, execute, sqlFile string) (string, error) {
	if execute != "" {
		return execute, nil
	}
	if sqlFile != "" {
		data, err := os.ReadFile(sqlFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", sqlFile, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
