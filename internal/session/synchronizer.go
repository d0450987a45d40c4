package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/workspace"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxPollAttempts = 120
	streamRetryDelay       = time.Second
)

// pollHandle identifies one poller so a finished poller can remove
// itself without tearing down a replacement started for the same tab.
type pollHandle struct {
	cancel context.CancelFunc
}

// Synchronizer keeps the workspace's view of tracked executions current
// from two redundant sources: the shared push event stream and a
// per-tab polling fallback. Both funnel through one reconciliation
// rule - an update applies only when its execution id matches the tab's
// current one, and a terminal status is never overwritten by a
// non-terminal one.
type Synchronizer struct {
	reg    *workspace.Registry
	client *api.Client
	pager  *Pager
	logger *slog.Logger

	// Overridable for tests; production uses the defaults.
	pollInterval time.Duration
	maxAttempts  int

	mu      sync.Mutex
	pollers map[string]*pollHandle
	history func(workspace.Tab)
}

// NewSynchronizer creates a new Synchronizer instance.
func NewSynchronizer(reg *workspace.Registry, client *api.Client, pager *Pager, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		reg:          reg,
		client:       client,
		pager:        pager,
		logger:       logger,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxPollAttempts,
		pollers:      make(map[string]*pollHandle),
	}
}

// SetHistoryHook installs the fire-and-forget callback invoked with a
// tab snapshot whenever an execution reaches a terminal status.
func (s *Synchronizer) SetHistoryHook(fn func(workspace.Tab)) {
	s.mu.Lock()
	s.history = fn
	s.mu.Unlock()
}

// Track starts the polling fallback for (tabID, executionID). Starting
// tracking for a tab that is already tracked replaces the old poller:
// at most one poll timer exists per tab at any time.
func (s *Synchronizer) Track(tabID, executionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.pollers[tabID]; ok {
		prev.cancel()
	}
	s.pollers[tabID] = h
	s.mu.Unlock()

	go s.poll(ctx, h, tabID, executionID)
}

// Stop tears down the poller for a tab, if any.
func (s *Synchronizer) Stop(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.pollers[tabID]; ok {
		h.cancel()
		delete(s.pollers, tabID)
	}
}

// StopAll tears down every poller. Called on session teardown.
func (s *Synchronizer) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tabID, h := range s.pollers {
		h.cancel()
		delete(s.pollers, tabID)
	}
}

// Run consumes the shared push event stream until ctx is cancelled,
// reconnecting after transient failures. The stream is redundant with
// polling: losing it degrades latency, not correctness.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		err := s.client.StreamEvents(ctx, s.HandleEvent)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Debug("event stream interrupted, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(streamRetryDelay):
		}
	}
}

// HandleEvent routes one push event to the tab whose current execution
// id matches. Events for unknown or stale execution ids are silently
// discarded.
func (s *Synchronizer) HandleEvent(ev query.StatusEvent) {
	for _, tab := range s.reg.Tabs() {
		if tab.Exec.ID != ev.ExecutionID {
			continue
		}

		applied := false
		s.reg.UpdateTab(tab.ID, func(t *workspace.Tab) {
			if !updateApplies(t.Exec, ev.ExecutionID, ev.Status) {
				return
			}
			t.Exec.Status = ev.Status
			if ev.Message != "" {
				t.Exec.Message = ev.Message
			}
			applied = true
		})

		if applied && ev.Status.Terminal() {
			s.Stop(tab.ID)
			// The push event carries no row or column metadata; fetch the
			// authoritative status once, then page one on success.
			go s.finalize(tab.ID, ev.ExecutionID)
		}
		return
	}
}

// poll is the fallback status loop for one tab. Network failures are
// swallowed and counted toward the attempt budget. Exhausting the
// budget stops polling silently: the execution may still be running
// server-side, the view simply stops refreshing.
func (s *Synchronizer) poll(ctx context.Context, h *pollHandle, tabID, executionID string) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		state, err := s.client.Status(ctx, executionID)
		if err != nil {
			s.logger.Debug("status poll failed", "execution", executionID, "attempt", attempts, "error", err)
			if attempts >= s.maxAttempts {
				s.remove(tabID, h)
				return
			}
			continue
		}

		applied := s.applyState(tabID, executionID, state)
		if state.Status.Terminal() {
			s.remove(tabID, h)
			if applied {
				s.complete(tabID, executionID, state.Status)
			}
			return
		}
		if attempts >= s.maxAttempts {
			s.remove(tabID, h)
			return
		}
	}
}

// finalize re-fetches the authoritative status after a terminal push
// event, then finishes like a poller would. Fetch failures are
// swallowed; the terminal status from the event already stands.
func (s *Synchronizer) finalize(tabID, executionID string) {
	state, err := s.client.Status(context.Background(), executionID)
	if err != nil {
		s.logger.Debug("authoritative status fetch failed", "execution", executionID, "error", err)
		if tab, ok := s.reg.Get(tabID); ok && tab.Exec.ID == executionID {
			s.fireHistory(tab)
		}
		return
	}
	s.applyState(tabID, executionID, state)
	s.complete(tabID, executionID, state.Status)
}

// complete runs the terminal-status side effects: fetch page one on
// success and ask the query history to refresh, fire-and-forget.
func (s *Synchronizer) complete(tabID, executionID string, status query.Status) {
	if status == query.StatusSucceeded {
		if err := s.pager.FetchPage(context.Background(), tabID, executionID, "", nil); err != nil {
			s.logger.Debug("first page fetch failed", "execution", executionID, "error", err)
		}
	}
	if tab, ok := s.reg.Get(tabID); ok && tab.Exec.ID == executionID {
		s.fireHistory(tab)
	}
}

func (s *Synchronizer) fireHistory(tab workspace.Tab) {
	s.mu.Lock()
	fn := s.history
	s.mu.Unlock()
	if fn != nil {
		fn(tab)
	}
}

// applyState applies an authoritative status payload to a tab under the
// reconciliation rule and reports whether it applied.
func (s *Synchronizer) applyState(tabID, executionID string, state *api.ExecutionState) bool {
	applied := false
	s.reg.UpdateTab(tabID, func(t *workspace.Tab) {
		if !updateApplies(t.Exec, executionID, state.Status) {
			return
		}
		t.Exec.Status = state.Status
		t.Exec.Message = state.Message
		t.Exec.ErrorSummary = state.ErrorSummary
		t.Exec.RowCount = state.RowCount
		t.Exec.ColumnCount = state.ColumnCount
		t.Exec.RowLimitReached = state.RowLimitReached
		if state.QueryHash != "" {
			t.Exec.QueryHash = state.QueryHash
		}
		applied = true
	})
	return applied
}

// updateApplies is the reconciliation rule shared by both sources: the
// execution id must match the tab's current one, and once a terminal
// status is recorded only further terminal payloads for the same id may
// refresh it (a late non-terminal update must never revive a finished
// execution).
func updateApplies(rec workspace.ExecutionRecord, executionID string, incoming query.Status) bool {
	if rec.ID != executionID {
		return false
	}
	if rec.Status.Terminal() && !incoming.Terminal() {
		return false
	}
	return true
}

// remove deletes the poller entry only if it still maps to h, so a
// replacement poller started for the same tab is left alone.
func (s *Synchronizer) remove(tabID string, h *pollHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pollers[tabID]; ok && cur == h {
		cur.cancel()
		delete(s.pollers, tabID)
	}
}

// activePollers reports how many poll timers exist. Test hook.
func (s *Synchronizer) activePollers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}
