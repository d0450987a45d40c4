package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/workspace"
)

// closeCancelTimeout bounds the fire-and-forget cancellation issued
// when a tab with a running execution is closed.
const closeCancelTimeout = 10 * time.Second

// Session wires the registry, controller, synchronizer and pager into
// one unit with a shared lifecycle. One session corresponds to one
// push-stream subscription.
type Session struct {
	Registry   *workspace.Registry
	Controller *Controller
	Pager      *Pager

	client  *api.Client
	tracker *Synchronizer
	logger  *slog.Logger
}

// Config holds the collaborators for a session.
type Config struct {
	Registry *workspace.Registry
	Client   *api.Client
	// History, when set, records every terminal execution. Optional.
	History workspace.HistoryStore
	Logger  *slog.Logger
}

// New creates a session. Call Run to start the push stream; pollers
// start lazily per tracked execution.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pager := NewPager(cfg.Registry, cfg.Client, logger)
	tracker := NewSynchronizer(cfg.Registry, cfg.Client, pager, logger)
	controller := NewController(cfg.Registry, cfg.Client, tracker, logger)

	s := &Session{
		Registry:   cfg.Registry,
		Controller: controller,
		Pager:      pager,
		client:     cfg.Client,
		tracker:    tracker,
		logger:     logger,
	}

	if cfg.History != nil {
		history := cfg.History
		tracker.SetHistoryHook(func(tab workspace.Tab) {
			entry := workspace.HistoryEntry{
				DatasourceID: tab.DatasourceID,
				SQL:          tab.QueryText,
				Status:       string(tab.Exec.Status),
				Error:        tab.Exec.ErrorSummary,
				ExecutedAt:   time.Now(),
			}
			if err := history.AddHistory(entry); err != nil {
				logger.Debug("failed to record history", "error", err)
			}
		})
	}
	return s
}

// Run consumes the shared push stream until ctx is cancelled, then
// tears down all pollers. The session stays functional without the
// stream - polling covers status updates at higher latency.
func (s *Session) Run(ctx context.Context) error {
	defer s.tracker.StopAll()
	return s.tracker.Run(ctx)
}

// CloseTab closes a tab, first requesting cancellation of any
// non-terminal execution it owns. The cancellation is fire-and-forget:
// local state is discarded regardless of the server's answer.
func (s *Session) CloseTab(tabID string) {
	if tab, ok := s.Registry.Get(tabID); ok {
		if exec := tab.Exec; exec.ID != "" && !exec.Status.Terminal() {
			executionID := exec.ID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), closeCancelTimeout)
				defer cancel()
				if _, err := s.client.Cancel(ctx, executionID); err != nil {
					s.logger.Debug("cancel on tab close failed", "execution", executionID, "error", err)
				}
			}()
		}
	}
	s.tracker.Stop(tabID)
	s.Registry.CloseTab(tabID)
}

// OpenFromHistory creates a new active tab pre-filled from a history
// entry and returns its id.
func (s *Session) OpenFromHistory(entry workspace.HistoryEntry) string {
	return s.Registry.CreateTab(entry.DatasourceID, historyTabTitle(entry.SQL), entry.SQL)
}

// AwaitTerminal blocks until the tab's execution reaches a terminal
// status, the tab stops being in flight, or ctx expires. Returns the
// final tab snapshot.
func (s *Session) AwaitTerminal(ctx context.Context, tabID string) (workspace.Tab, error) {
	updates := s.Registry.Notifier().Subscribe()
	defer s.Registry.Notifier().Unsubscribe(updates)

	for {
		tab, ok := s.Registry.Get(tabID)
		if !ok {
			return workspace.Tab{}, fmt.Errorf("tab %s no longer exists", tabID)
		}
		if !tab.Exec.InFlight() {
			return tab, nil
		}

		select {
		case <-ctx.Done():
			return tab, ctx.Err()
		case <-updates:
		}
	}
}

// historyTabTitle derives a short tab title from the statement text.
func historyTabTitle(sqlText string) string {
	title := strings.Join(strings.Fields(sqlText), " ")
	if len(title) > 32 {
		title = title[:32] + "..."
	}
	if title == "" {
		return workspace.DefaultTabTitle
	}
	return title
}
