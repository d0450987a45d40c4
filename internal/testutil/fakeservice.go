package testutil

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/querydesk/pkg/query"
)

// FakeExecution is the server-side record of one submitted execution.
type FakeExecution struct {
	ID           string
	DatasourceID string
	SQL          string
	Status       query.Status
	Message      string
	ErrorSummary string
	QueryHash    string

	Columns         []query.Column
	Rows            []query.Row
	RowLimitReached bool
}

// FakeService is an in-process stand-in for the remote query service.
// It implements the full HTTP surface the client consumes, including
// the push event stream, with knobs for failure injection.
type FakeService struct {
	server *httptest.Server

	mu          sync.Mutex
	executions  map[string]*FakeExecution
	nextID      int
	subscribers map[chan query.StatusEvent]struct{}

	// Failure knobs.
	submitError    string
	statusFailures int
	requireToken   string

	// InitialStatus is assigned on submission. Defaults to QUEUED.
	InitialStatus query.Status

	statusCalls int
	cancelCalls int
}

// NewFakeService starts a fake query service, torn down with the test.
func NewFakeService(t testing.TB) *FakeService {
	t.Helper()

	f := &FakeService{
		executions:    make(map[string]*FakeExecution),
		subscribers:   make(map[chan query.StatusEvent]struct{}),
		InitialStatus: query.StatusQueued,
	}

	r := chi.NewRouter()
	r.Post("/queries", f.handleSubmit)
	r.Get("/queries/events", f.handleEvents)
	r.Get("/queries/{executionID}", f.handleStatus)
	r.Post("/queries/{executionID}/cancel", f.handleCancel)
	r.Get("/queries/{executionID}/results", f.handleResults)
	r.Get("/queries/{executionID}/export.csv", f.handleExport)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// URL returns the service base URL.
func (f *FakeService) URL() string { return f.server.URL }

// Close shuts the service down and disconnects stream subscribers.
// Subscribers are disconnected first so blocked stream handlers unwind
// before the server waits for them.
func (f *FakeService) Close() {
	f.mu.Lock()
	for ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, ch)
	}
	f.mu.Unlock()

	f.server.Close()
}

// FailSubmit makes the next submissions fail with the given message.
// Pass an empty string to restore normal behavior.
func (f *FakeService) FailSubmit(message string) {
	f.mu.Lock()
	f.submitError = message
	f.mu.Unlock()
}

// FailStatusFetches makes the next n status fetches return HTTP 500.
func (f *FakeService) FailStatusFetches(n int) {
	f.mu.Lock()
	f.statusFailures = n
	f.mu.Unlock()
}

// RequireToken makes non-GET endpoints reject requests whose
// X-CSRF-Token header differs from token.
func (f *FakeService) RequireToken(token string) {
	f.mu.Lock()
	f.requireToken = token
	f.mu.Unlock()
}

// StatusCalls returns how many status fetches were served or rejected.
func (f *FakeService) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

// CancelCalls returns how many cancel requests arrived.
func (f *FakeService) CancelCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

// Execution returns a copy of the execution record.
func (f *FakeService) Execution(id string) (FakeExecution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return FakeExecution{}, false
	}
	return *e, true
}

// LastExecutionID returns the id assigned to the latest submission.
func (f *FakeService) LastExecutionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("exec-%d", f.nextID)
}

// SetResults installs the full result set for an execution.
func (f *FakeService) SetResults(id string, columns []query.Column, rows []query.Row, rowLimitReached bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.executions[id]; ok {
		e.Columns = columns
		e.Rows = rows
		e.RowLimitReached = rowLimitReached
	}
}

// Complete moves an execution to a terminal status without pushing an
// event; the client is expected to find out by polling.
func (f *FakeService) Complete(id string, status query.Status, errorSummary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.executions[id]; ok {
		e.Status = status
		e.ErrorSummary = errorSummary
		e.Message = "Execution " + string(status)
	}
}

// PushEvent broadcasts a status event on the push stream without
// touching the stored execution state. Lets tests exercise stale and
// contradictory events.
func (f *FakeService) PushEvent(ev query.StatusEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CompleteAndPush records a terminal status and announces it on the
// push stream, like the real service does.
func (f *FakeService) CompleteAndPush(id string, status query.Status, errorSummary string) {
	f.Complete(id, status, errorSummary)
	f.PushEvent(query.StatusEvent{
		ExecutionID: id,
		Status:      status,
		Message:     "Execution " + string(status),
	})
}

func (f *FakeService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !f.checkToken(w, r) {
		return
	}

	var body struct {
		DatasourceID string `json:"datasourceId"`
		SQL          string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed submission")
		return
	}

	f.mu.Lock()
	if f.submitError != "" {
		msg := f.submitError
		f.mu.Unlock()
		writeError(w, http.StatusInternalServerError, msg)
		return
	}
	f.nextID++
	e := &FakeExecution{
		ID:           fmt.Sprintf("exec-%d", f.nextID),
		DatasourceID: body.DatasourceID,
		SQL:          body.SQL,
		Status:       f.InitialStatus,
		Message:      "Execution queued",
		QueryHash:    fmt.Sprintf("hash-%d", f.nextID),
	}
	f.executions[e.ID] = e
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"executionId": e.ID,
		"status":      e.Status,
		"queryHash":   e.QueryHash,
	})
}

func (f *FakeService) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.statusCalls++
	if f.statusFailures > 0 {
		f.statusFailures--
		f.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "status temporarily unavailable")
		return
	}
	e, ok := f.executions[chi.URLParam(r, "executionID")]
	if !ok {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "no such execution")
		return
	}
	payload := f.statusPayload(e)
	f.mu.Unlock()

	writeJSON(w, payload)
}

func (f *FakeService) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !f.checkToken(w, r) {
		return
	}

	f.mu.Lock()
	f.cancelCalls++
	e, ok := f.executions[chi.URLParam(r, "executionID")]
	if !ok {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "no such execution")
		return
	}
	if !e.Status.Terminal() {
		e.Status = query.StatusCanceled
		e.Message = "Execution canceled"
	}
	payload := f.statusPayload(e)
	f.mu.Unlock()

	writeJSON(w, payload)
}

// statusPayload must be called with the lock held.
func (f *FakeService) statusPayload(e *FakeExecution) map[string]any {
	return map[string]any{
		"status":          e.Status,
		"message":         e.Message,
		"errorSummary":    e.ErrorSummary,
		"rowCount":        len(e.Rows),
		"columnCount":     len(e.Columns),
		"rowLimitReached": e.RowLimitReached,
		"queryHash":       e.QueryHash,
	}
}

// handleResults serves cursor-token pagination. Tokens are opaque to
// the client; here they encode a row offset.
func (f *FakeService) handleResults(w http.ResponseWriter, r *http.Request) {
	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize <= 0 {
		pageSize = 100
	}
	offset := 0
	if token := r.URL.Query().Get("pageToken"); token != "" {
		offset, err = strconv.Atoi(token)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid page token")
			return
		}
	}

	f.mu.Lock()
	e, ok := f.executions[chi.URLParam(r, "executionID")]
	if !ok {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "no such execution")
		return
	}
	end := offset + pageSize
	if end > len(e.Rows) {
		end = len(e.Rows)
	}
	if offset > end {
		offset = end
	}
	rows := e.Rows[offset:end]
	next := ""
	if end < len(e.Rows) {
		next = strconv.Itoa(end)
	}
	payload := map[string]any{
		"columns":         e.Columns,
		"rows":            rows,
		"nextPageToken":   next,
		"rowLimitReached": e.RowLimitReached,
	}
	f.mu.Unlock()

	writeJSON(w, payload)
}

func (f *FakeService) handleExport(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	e, ok := f.executions[chi.URLParam(r, "executionID")]
	if !ok {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "no such execution")
		return
	}
	columns := e.Columns
	rows := e.Rows
	id := e.ID
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))

	cw := csv.NewWriter(w)
	if r.URL.Query().Get("headers") == "true" {
		names := make([]string, len(columns))
		for i, col := range columns {
			names[i] = col.Name
		}
		_ = cw.Write(names)
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell != nil {
				cells[i] = *cell
			}
		}
		_ = cw.Write(cells)
	}
	cw.Flush()
}

func (f *FakeService) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan query.StatusEvent, 16)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (f *FakeService) checkToken(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	required := f.requireToken
	f.mu.Unlock()

	if required != "" && r.Header.Get("X-CSRF-Token") != required {
		writeError(w, http.StatusForbidden, "missing or invalid request token")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
