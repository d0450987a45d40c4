// Package session orchestrates remote SQL executions against the
// workspace: submission, hybrid push/poll status tracking, paginated
// result retrieval, and cancellation. It holds tabs by id only and
// mutates them exclusively through the workspace registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/workspace"
)

// RunKind distinguishes what the user asked for; it only affects the
// human status message shown while submitting.
type RunKind int

const (
	RunKindQuery RunKind = iota
	RunKindExplain
)

func (k RunKind) submitMessage() string {
	if k == RunKindExplain {
		return "Submitting explain..."
	}
	return "Submitting query..."
}

// Controller drives the per-tab execution lifecycle: submit, hand over
// to tracking, cancel. At most one active execution per tab, ever.
type Controller struct {
	reg     *workspace.Registry
	client  *api.Client
	tracker *Synchronizer
	logger  *slog.Logger
}

// NewController creates a new Controller instance.
func NewController(reg *workspace.Registry, client *api.Client, tracker *Synchronizer, logger *slog.Logger) *Controller {
	return &Controller{reg: reg, client: client, tracker: tracker, logger: logger}
}

// Run submits sqlText on the given tab and starts status tracking.
//
// Local rejections (no network call): the tab already has a non-terminal
// execution, the tab's datasource is not permitted, or the trimmed SQL
// is empty. An in-flight rejection leaves the tab untouched; input
// errors are surfaced on the tab so the user sees why nothing ran.
func (c *Controller) Run(ctx context.Context, tabID, sqlText string, kind RunKind) error {
	tab, ok := c.reg.Get(tabID)
	if !ok {
		return fmt.Errorf("tab %s no longer exists", tabID)
	}

	if tab.Exec.InFlight() {
		return errors.New("a query is already running on this tab")
	}

	if err := c.validateInput(tab, sqlText); err != nil {
		c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
			t.Exec.ErrorSummary = err.Error()
			t.Exec.Message = ""
		})
		return err
	}

	// A new submission overwrites the prior execution record and result
	// page wholesale; stale updates for the old id fall to the
	// reconciliation rule from here on.
	c.tracker.Stop(tabID)
	c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
		t.Exec = workspace.ExecutionRecord{
			Submitting: true,
			Message:    kind.submitMessage(),
		}
		t.Page = workspace.ResultPage{}
	})

	res, err := c.client.Submit(ctx, tab.DatasourceID, sqlText)
	if err != nil {
		c.logger.Debug("submission failed", "tab", tabID, "error", err)
		c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
			t.Exec = workspace.ExecutionRecord{ErrorSummary: err.Error()}
		})
		return err
	}

	c.logger.Debug("execution submitted", "tab", tabID, "execution", res.ExecutionID, "status", res.Status)
	c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
		t.Exec.Submitting = false
		t.Exec.ID = res.ExecutionID
		t.Exec.Status = res.Status
		t.Exec.QueryHash = res.QueryHash
		t.Exec.Message = "Execution started"
	})

	c.tracker.Track(tabID, res.ExecutionID)
	return nil
}

// Cancel requests cancellation of the tab's current execution. Best
// effort: local tracking stops regardless of the network outcome, and
// on success one authoritative status fetch reconciles the final state.
func (c *Controller) Cancel(ctx context.Context, tabID string) error {
	tab, ok := c.reg.Get(tabID)
	if !ok {
		return fmt.Errorf("tab %s no longer exists", tabID)
	}

	exec := tab.Exec
	if exec.ID == "" || exec.Status.Terminal() {
		c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
			t.Exec.Message = "Nothing to cancel"
		})
		return nil
	}

	_, err := c.client.Cancel(ctx, exec.ID)
	c.tracker.Stop(tabID)
	if err != nil {
		c.reg.UpdateTab(tabID, func(t *workspace.Tab) {
			t.Exec.ErrorSummary = err.Error()
		})
		return err
	}

	// One authoritative fetch; the server decides the true final state.
	state, err := c.client.Status(ctx, exec.ID)
	if err != nil {
		c.logger.Debug("status fetch after cancel failed", "execution", exec.ID, "error", err)
		return nil
	}
	c.tracker.applyState(tabID, exec.ID, state)
	return nil
}

func (c *Controller) validateInput(tab workspace.Tab, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return errors.New("query text is empty")
	}
	if tab.DatasourceID == "" {
		return errors.New("no datasource selected")
	}
	if !c.reg.IsPermitted(tab.DatasourceID) {
		return fmt.Errorf("datasource %q is not available", tab.DatasourceID)
	}
	return nil
}
