package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querydesk/internal/session"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

const replPrompt = "querydesk> "

// NewREPLCommand creates the interactive REPL command.
func NewREPLCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive shell against the query service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			eg, egctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return wb.session.Run(egctx)
			})
			defer func() {
				cancel()
				_ = eg.Wait()
			}()

			return runREPL(egctx, cmd, wb, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for each execution")
	return cmd
}

func runREPL(ctx context.Context, cmd *cobra.Command, wb *workbench, timeout time.Duration) error {
	historyFile := filepath.Join(filepath.Dir(wb.cfg.Workspace.Path), "repl_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "QueryDesk REPL (server: %s)\n", wb.cfg.Server.URL)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	// REPL loop
	var multiLineBuffer strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			multiLineBuffer.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Handle dot-commands
		if strings.HasPrefix(line, ".") {
			if line == ".quit" || line == ".exit" {
				break
			}
			handleDotCommand(ctx, cmd, wb, line, timeout)
			continue
		}

		// Accumulate multi-line SQL until semicolon
		multiLineBuffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			multiLineBuffer.WriteString(" ")
			rl.SetPrompt("      ...> ")
			continue
		}
		rl.SetPrompt(replPrompt)

		sqlText := multiLineBuffer.String()
		multiLineBuffer.Reset()

		if err := submitAndRender(ctx, cmd, wb, sqlText, timeout); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// submitAndRender runs one statement on the active tab and renders the
// first page once the execution finishes.
func submitAndRender(ctx context.Context, cmd *cobra.Command, wb *workbench, sqlText string, timeout time.Duration) error {
	tab, ok := wb.registry.ActiveTab()
	if !ok {
		return errors.New("workspace has no active tab")
	}
	wb.registry.SetQueryText(tab.ID, sqlText)

	if err := wb.session.Controller.Run(ctx, tab.ID, sqlText, session.RunKindQuery); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	final, err := wb.session.AwaitTerminal(waitCtx, tab.ID)
	if err != nil {
		return fmt.Errorf("gave up waiting for execution %s: %w", final.Exec.ID, err)
	}

	switch final.Exec.Status {
	case query.StatusSucceeded:
		renderPage(cmd.OutOrStdout(), final)
		return nil
	case query.StatusCanceled:
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Execution was canceled.")
		return nil
	case query.StatusFailed:
		return fmt.Errorf("execution failed: %s", final.Exec.ErrorSummary)
	default:
		return fmt.Errorf("execution %s did not finish: %s", final.Exec.ID, final.Exec.Status)
	}
}

func handleDotCommand(ctx context.Context, cmd *cobra.Command, wb *workbench, line string, timeout time.Duration) {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".help":
		printREPLHelp(out)

	case ".tabs":
		activeID := wb.registry.ActiveTabID()
		for i, tab := range wb.registry.Tabs() {
			marker := " "
			if tab.ID == activeID {
				marker = "*"
			}
			_, _ = fmt.Fprintf(out, "%s %d  %-24s %-12s %s\n", marker, i+1, tab.Title, tab.DatasourceID, snippet(tab.QueryText, 40))
		}

	case ".tab":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .tab <n>")
			return
		}
		tab, err := resolveTab(wb.registry, parts[1])
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		wb.registry.SetActiveTab(tab.ID)
		_, _ = fmt.Fprintf(out, "Active tab is now %q\n", tab.Title)

	case ".new":
		id := wb.registry.CreateTab("", "", "")
		_, _ = fmt.Fprintf(out, "Created tab %s\n", shortID(id))

	case ".close":
		tab, ok := wb.registry.ActiveTab()
		if !ok {
			return
		}
		wb.session.CloseTab(tab.ID)
		_, _ = fmt.Fprintf(out, "Closed tab %q\n", tab.Title)

	case ".on":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .on <datasource>")
			return
		}
		tab, ok := wb.registry.ActiveTab()
		if !ok {
			return
		}
		wb.registry.SetDatasource(tab.ID, parts[1])
		if t, _ := wb.registry.Get(tab.ID); t.DatasourceID != parts[1] {
			_, _ = fmt.Fprintf(errOut, "Error: datasource %q is not available\n", parts[1])
			return
		}
		_, _ = fmt.Fprintf(out, "Tab now targets %s\n", parts[1])

	case ".cancel":
		tab, ok := wb.registry.ActiveTab()
		if !ok {
			return
		}
		if err := wb.session.Controller.Cancel(ctx, tab.ID); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		_, _ = fmt.Fprintln(out, "Cancellation requested.")

	case ".next", ".prev":
		tab, ok := wb.registry.ActiveTab()
		if !ok {
			return
		}
		var err error
		if command == ".next" {
			err = wb.session.Pager.Next(ctx, tab.ID)
		} else {
			err = wb.session.Pager.Previous(ctx, tab.ID)
		}
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		if t, ok := wb.registry.Get(tab.ID); ok {
			renderPage(out, t)
		}

	case ".export":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .export <file>")
			return
		}
		tab, ok := wb.registry.ActiveTab()
		if !ok || !tab.Page.Loaded {
			_, _ = fmt.Fprintln(errOut, "Error: no results to export")
			return
		}
		f, err := os.Create(parts[1])
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		err = session.WritePageCSV(f, tab.Page, true)
		_ = f.Close()
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		_, _ = fmt.Fprintf(out, "Wrote %s\n", parts[1])

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .tabs             List workspace tabs
  .tab <n>          Switch the active tab
  .new              Create a new tab
  .close            Close the active tab
  .on <datasource>  Point the active tab at a datasource
  .cancel           Cancel the active tab's execution
  .next / .prev     Navigate result pages
  .export <file>    Write the current page as CSV
  .quit / .exit     Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// replCompleter completes dot-commands.
func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".tabs"),
		readline.PcItem(".tab"),
		readline.PcItem(".new"),
		readline.PcItem(".close"),
		readline.PcItem(".on"),
		readline.PcItem(".cancel"),
		readline.PcItem(".next"),
		readline.PcItem(".prev"),
		readline.PcItem(".export"),
		readline.PcItem(".quit"),
	)
}
