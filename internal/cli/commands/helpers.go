package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/cli/config"
	"github.com/leapstack-labs/querydesk/internal/session"
	"github.com/leapstack-labs/querydesk/internal/workspace"
)

// workbench bundles the live pieces most commands need.
type workbench struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *workspace.Registry
	history  workspace.HistoryStore // nil for the json backend
	session  *session.Session      // nil for workspace-only commands

	closers []func() error
}

// Close releases the workbench resources.
func (w *workbench) Close() error {
	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openWorkspace opens the persisted workspace without connecting to
// the server. For commands that only manipulate tabs or history.
func openWorkspace(cmd *cobra.Command) (*workbench, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	logger := loggerFrom(cmd)

	w := &workbench{cfg: cfg, logger: logger}

	var store workspace.Store
	switch cfg.Workspace.Backend {
	case config.BackendSQLite:
		s := workspace.NewSQLiteStore()
		if err := s.Open(cfg.Workspace.Path); err != nil {
			return nil, fmt.Errorf("failed to open workspace database: %w", err)
		}
		w.closers = append(w.closers, s.Close)
		store = s
		w.history = s
	case config.BackendJSON:
		store = workspace.NewFileStore(cfg.Workspace.Path, logger)
	default:
		return nil, fmt.Errorf("unknown workspace backend %q", cfg.Workspace.Backend)
	}

	reg, err := workspace.NewRegistry(store, cfg.Datasources, logger)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	w.registry = reg
	return w, nil
}

// openWorkbench opens the workspace and connects a session to the
// remote query service.
func openWorkbench(cmd *cobra.Command) (*workbench, error) {
	w, err := openWorkspace(cmd)
	if err != nil {
		return nil, err
	}
	if err := w.cfg.Validate(); err != nil {
		_ = w.Close()
		return nil, err
	}

	client, err := newAPIClient(w.cfg, w.logger)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	w.session = session.New(session.Config{
		Registry: w.registry,
		Client:   client,
		History:  w.history,
		Logger:   w.logger,
	})
	return w, nil
}

// newAPIClient builds the query service client from config.
func newAPIClient(cfg *config.Config, logger *slog.Logger) (*api.Client, error) {
	var tokens api.TokenProvider
	if cfg.Server.CSRFToken != "" {
		tokens = api.StaticToken(cfg.Server.CSRFToken)
	}
	return api.NewClient(api.Config{
		BaseURL:   cfg.Server.URL,
		AuthToken: cfg.Server.Token,
		Tokens:    tokens,
		Timeout:   cfg.Server.Timeout,
		Logger:    logger,
	})
}

// resolveTab finds a tab by 1-based position or id prefix.
func resolveTab(reg *workspace.Registry, ref string) (workspace.Tab, error) {
	tabs := reg.Tabs()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(tabs) {
			return workspace.Tab{}, fmt.Errorf("no tab %d (have %d)", n, len(tabs))
		}
		return tabs[n-1], nil
	}
	for _, t := range tabs {
		if strings.HasPrefix(t.ID, ref) {
			return t, nil
		}
	}
	return workspace.Tab{}, fmt.Errorf("no tab matching %q", ref)
}

// renderPage writes the tab's current result page as a table, with a
// footer describing pagination state.
func renderPage(out io.Writer, tab workspace.Tab) {
	page := tab.Page
	if !page.Loaded {
		fmt.Fprintln(out, "No results.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)

	header := table.Row{}
	for _, col := range page.Columns {
		header = append(header, col.Name)
	}
	t.AppendHeader(header)

	for _, row := range page.Rows {
		cells := table.Row{}
		for _, cell := range row {
			if cell == nil {
				cells = append(cells, "NULL")
			} else {
				cells = append(cells, *cell)
			}
		}
		t.AppendRow(cells)
	}
	t.Render()

	fmt.Fprintf(out, "%d row(s) on this page", len(page.Rows))
	if page.HasNext() {
		fmt.Fprint(out, "; more pages available")
	}
	if tab.Exec.RowLimitReached {
		fmt.Fprint(out, "; row limit reached")
	}
	fmt.Fprintln(out)
}

// snippet compresses SQL text into a single short line.
func snippet(sqlText string, max int) string {
	s := strings.Join(strings.Fields(sqlText), " ")
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
