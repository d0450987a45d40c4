package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/workspace"
)

// PageSize is the fixed number of rows requested per result page.
const PageSize = 100

// Pager serves one page of results at a time for a tab's current
// succeeded execution. Backward navigation re-fetches: the server is
// the sole holder of row data beyond the current page.
type Pager struct {
	reg    *workspace.Registry
	client *api.Client
	logger *slog.Logger
}

// NewPager creates a new Pager instance.
func NewPager(reg *workspace.Registry, client *api.Client, logger *slog.Logger) *Pager {
	return &Pager{reg: reg, client: client, logger: logger}
}

// FetchPage requests one page by opaque token (empty means first page)
// and stores it on the tab. backStack is the stack of tokens used to
// reach this page. The response is discarded when the tab's current
// execution id no longer equals executionID.
func (p *Pager) FetchPage(ctx context.Context, tabID, executionID, pageToken string, backStack []string) error {
	page, err := p.client.ResultsPage(ctx, executionID, PageSize, pageToken)
	if err != nil {
		return fmt.Errorf("failed to fetch results: %w", err)
	}

	p.reg.UpdateTab(tabID, func(t *workspace.Tab) {
		if t.Exec.ID != executionID {
			// The user ran something else meanwhile.
			return
		}
		t.Page = workspace.ResultPage{
			Columns:      page.Columns,
			Rows:         page.Rows,
			NextToken:    page.NextPageToken,
			CurrentToken: pageToken,
			BackStack:    backStack,
			Loaded:       true,
		}
		t.Exec.RowLimitReached = page.RowLimitReached
	})
	return nil
}

// Next fetches the following page. Only valid while a next-page token
// is present; the current token is pushed onto the back stack.
func (p *Pager) Next(ctx context.Context, tabID string) error {
	tab, ok := p.reg.Get(tabID)
	if !ok {
		return fmt.Errorf("tab %s no longer exists", tabID)
	}
	if !tab.Page.HasNext() {
		return errors.New("no next page")
	}

	back := append(append([]string(nil), tab.Page.BackStack...), tab.Page.CurrentToken)
	return p.FetchPage(ctx, tabID, tab.Exec.ID, tab.Page.NextToken, back)
}

// Previous re-fetches the page the user came from by popping the back
// stack. Only valid while the stack is non-empty.
func (p *Pager) Previous(ctx context.Context, tabID string) error {
	tab, ok := p.reg.Get(tabID)
	if !ok {
		return fmt.Errorf("tab %s no longer exists", tabID)
	}
	if !tab.Page.HasPrevious() {
		return errors.New("no previous page")
	}

	stack := tab.Page.BackStack
	token := stack[len(stack)-1]
	back := append([]string(nil), stack[:len(stack)-1]...)
	return p.FetchPage(ctx, tabID, tab.Exec.ID, token, back)
}
