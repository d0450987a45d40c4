package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/testutil"
	"github.com/leapstack-labs/querydesk/internal/workspace"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

// harness bundles a session wired to an in-process fake service, with
// polling tightened so tests settle quickly.
type harness struct {
	*Session
	svc *testutil.FakeService
}

func newHarness(t *testing.T, datasources []string) *harness {
	t.Helper()
	logger := testutil.NewTestLogger(t)

	store := workspace.NewFileStore(filepath.Join(t.TempDir(), "workspace.json"), logger)
	reg, err := workspace.NewRegistry(store, datasources, logger)
	require.NoError(t, err)

	svc := testutil.NewFakeService(t)
	client, err := api.NewClient(api.Config{BaseURL: svc.URL(), Logger: logger})
	require.NoError(t, err)

	sess := New(Config{Registry: reg, Client: client, Logger: logger})
	sess.tracker.pollInterval = 10 * time.Millisecond
	t.Cleanup(sess.tracker.StopAll)

	return &harness{Session: sess, svc: svc}
}

func (h *harness) activeTab(t *testing.T) workspace.Tab {
	t.Helper()
	tab, ok := h.Registry.ActiveTab()
	require.True(t, ok)
	return tab
}

func TestController_Run_Submits(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	err := h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery)
	require.NoError(t, err)

	tab := h.activeTab(t)
	assert.Equal(t, "exec-1", tab.Exec.ID)
	assert.Equal(t, query.StatusQueued, tab.Exec.Status)
	assert.Equal(t, "hash-1", tab.Exec.QueryHash)
	assert.False(t, tab.Exec.Submitting)
	assert.True(t, tab.Exec.InFlight())
	assert.Equal(t, 1, h.tracker.activePollers())

	exec, ok := h.svc.Execution("exec-1")
	require.True(t, ok)
	assert.Equal(t, "ds-1", exec.DatasourceID)
	assert.Equal(t, "SELECT 1", exec.SQL)
}

func TestController_Run_RejectsWhileInFlight(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery))
	before := h.activeTab(t)

	err := h.Controller.Run(context.Background(), tabID, "SELECT 2", RunKindQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// The rejection leaves the tab untouched: same execution, no error
	// summary, and nothing new reached the server.
	after := h.activeTab(t)
	assert.Equal(t, before.Exec, after.Exec)
	assert.Equal(t, "exec-1", h.svc.LastExecutionID())
}

func TestController_Run_InputValidation(t *testing.T) {
	tests := []struct {
		name        string
		datasources []string
		tabDS       string
		sqlText     string
		wantErr     string
	}{
		{"empty sql", []string{"ds-1"}, "ds-1", "   \n\t", "query text is empty"},
		{"no datasource", nil, "", "SELECT 1", "no datasource selected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.datasources)
			tabID := h.Registry.ActiveTabID()

			err := h.Controller.Run(context.Background(), tabID, tt.sqlText, RunKindQuery)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			// The reason is surfaced on the tab and nothing was submitted
			tab := h.activeTab(t)
			assert.Equal(t, tt.wantErr, tab.Exec.ErrorSummary)
			assert.Empty(t, tab.Exec.ID)
			assert.False(t, tab.Exec.InFlight())
		})
	}
}

func TestController_Run_SubmitFailure(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	h.svc.FailSubmit("too many concurrent queries")
	tabID := h.Registry.ActiveTabID()

	err := h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery)
	require.Error(t, err)

	tab := h.activeTab(t)
	assert.Empty(t, tab.Exec.ID)
	assert.False(t, tab.Exec.Submitting)
	assert.Contains(t, tab.Exec.ErrorSummary, "too many concurrent queries")
	assert.False(t, tab.Exec.InFlight())
	assert.Equal(t, 0, h.tracker.activePollers())

	// The tab is immediately usable again
	h.svc.FailSubmit("")
	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery))
}

func TestController_Run_ClearsPreviousResults(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery))
	h.svc.SetResults("exec-1", []query.Column{{Name: "n"}}, []query.Row{{strPtr("1")}}, false)
	h.svc.Complete("exec-1", query.StatusSucceeded, "")
	awaitSettled(t, h, tabID)
	require.Eventually(t, func() bool {
		tab, _ := h.Registry.Get(tabID)
		return tab.Page.Loaded
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 2", RunKindQuery))

	tab := h.activeTab(t)
	assert.Equal(t, "exec-2", tab.Exec.ID)
	assert.False(t, tab.Page.Loaded)
	assert.Empty(t, tab.Page.Rows)
}

func TestController_Cancel_NothingToCancel(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	require.NoError(t, h.Controller.Cancel(context.Background(), tabID))
	assert.Equal(t, "Nothing to cancel", h.activeTab(t).Exec.Message)
	assert.Equal(t, 0, h.svc.CancelCalls())

	// Same for an already-terminal execution
	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 1", RunKindQuery))
	h.svc.Complete("exec-1", query.StatusFailed, "boom")
	awaitSettled(t, h, tabID)

	require.NoError(t, h.Controller.Cancel(context.Background(), tabID))
	assert.Equal(t, 0, h.svc.CancelCalls())
}

func TestController_Cancel_InFlight(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT pg_sleep(60)", RunKindQuery))
	require.NoError(t, h.Controller.Cancel(context.Background(), tabID))

	assert.Equal(t, 1, h.svc.CancelCalls())
	assert.Equal(t, 0, h.tracker.activePollers())

	// The authoritative post-cancel fetch recorded the final state
	tab := h.activeTab(t)
	assert.Equal(t, query.StatusCanceled, tab.Exec.Status)
	assert.False(t, tab.Exec.InFlight())
}

func TestController_Cancel_UnknownTab(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	err := h.Controller.Cancel(context.Background(), "missing")
	assert.Error(t, err)
}

// awaitSettled waits until the tab's execution leaves the in-flight
// state, using the same notification path the UI does.
func awaitSettled(t *testing.T, h *harness, tabID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.AwaitTerminal(ctx, tabID)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }
