package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydesk/pkg/query"
)

// runWithRows submits a query, completes it with rowCount rows, and
// waits for page one to land.
func runWithRows(t *testing.T, h *harness, tabID string, rowCount int) {
	t.Helper()

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT n FROM numbers", RunKindQuery))

	rows := make([]query.Row, rowCount)
	for i := range rows {
		rows[i] = query.Row{strPtr(fmt.Sprintf("%d", i))}
	}
	tab, _ := h.Registry.Get(tabID)
	h.svc.SetResults(tab.Exec.ID, []query.Column{{Name: "n", JDBCType: "INTEGER"}}, rows, false)
	h.svc.Complete(tab.Exec.ID, query.StatusSucceeded, "")

	awaitSettled(t, h, tabID)
	require.Eventually(t, func() bool {
		tab, _ := h.Registry.Get(tabID)
		return tab.Page.Loaded
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPager_SinglePage(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	runWithRows(t, h, tabID, 5)

	tab, _ := h.Registry.Get(tabID)
	assert.Len(t, tab.Page.Rows, 5)
	assert.False(t, tab.Page.HasNext())
	assert.False(t, tab.Page.HasPrevious())

	assert.Error(t, h.Pager.Next(context.Background(), tabID))
	assert.Error(t, h.Pager.Previous(context.Background(), tabID))
}

func TestPager_ForwardAndBackward(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	// Three pages: 100 + 100 + 50
	runWithRows(t, h, tabID, 250)

	tab, _ := h.Registry.Get(tabID)
	require.Len(t, tab.Page.Rows, PageSize)
	assert.Equal(t, "0", *tab.Page.Rows[0][0])
	assert.True(t, tab.Page.HasNext())
	assert.False(t, tab.Page.HasPrevious())

	require.NoError(t, h.Pager.Next(context.Background(), tabID))
	tab, _ = h.Registry.Get(tabID)
	require.Len(t, tab.Page.Rows, PageSize)
	assert.Equal(t, "100", *tab.Page.Rows[0][0])
	assert.True(t, tab.Page.HasNext())
	assert.True(t, tab.Page.HasPrevious())

	require.NoError(t, h.Pager.Next(context.Background(), tabID))
	tab, _ = h.Registry.Get(tabID)
	require.Len(t, tab.Page.Rows, 50)
	assert.Equal(t, "200", *tab.Page.Rows[0][0])
	assert.False(t, tab.Page.HasNext())
	assert.True(t, tab.Page.HasPrevious())
	assert.Len(t, tab.Page.BackStack, 2)

	// Walk all the way back to the first page
	require.NoError(t, h.Pager.Previous(context.Background(), tabID))
	tab, _ = h.Registry.Get(tabID)
	assert.Equal(t, "100", *tab.Page.Rows[0][0])

	require.NoError(t, h.Pager.Previous(context.Background(), tabID))
	tab, _ = h.Registry.Get(tabID)
	assert.Equal(t, "0", *tab.Page.Rows[0][0])
	assert.False(t, tab.Page.HasPrevious())
	assert.True(t, tab.Page.HasNext())
}

func TestPager_FetchDiscardedWhenExecutionChanged(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	runWithRows(t, h, tabID, 10)
	tab, _ := h.Registry.Get(tabID)
	oldExecID := tab.Exec.ID

	// The user runs something else; the tab now belongs to exec-2
	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT 2", RunKindQuery))
	h.tracker.Stop(tabID)

	// A late page response for the old execution must be dropped
	require.NoError(t, h.Pager.FetchPage(context.Background(), tabID, oldExecID, "", nil))

	tab, _ = h.Registry.Get(tabID)
	assert.Equal(t, "exec-2", tab.Exec.ID)
	assert.False(t, tab.Page.Loaded)
}

func TestPager_RowLimitReachedPropagates(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	tabID := h.Registry.ActiveTabID()

	require.NoError(t, h.Controller.Run(context.Background(), tabID, "SELECT * FROM big", RunKindQuery))
	h.svc.SetResults("exec-1", []query.Column{{Name: "n"}}, []query.Row{{strPtr("1")}}, true)
	h.svc.Complete("exec-1", query.StatusSucceeded, "")

	awaitSettled(t, h, tabID)
	require.Eventually(t, func() bool {
		tab, _ := h.Registry.Get(tabID)
		return tab.Page.Loaded
	}, 5*time.Second, 10*time.Millisecond)

	tab, _ := h.Registry.Get(tabID)
	assert.True(t, tab.Exec.RowLimitReached)
}

func TestPager_UnknownTab(t *testing.T) {
	h := newHarness(t, []string{"ds-1"})
	assert.Error(t, h.Pager.Next(context.Background(), "missing"))
	assert.Error(t, h.Pager.Previous(context.Background(), "missing"))
}
