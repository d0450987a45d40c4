// Package workspace owns the set of editor tabs, the active-tab
// selection, and their persistence across restarts. All tab mutation
// flows through the Registry; other components address tabs by id and
// never hold tab values by reference.
package workspace

import "github.com/leapstack-labs/querydesk/pkg/query"

// Tab is one independent query-editing and execution context.
type Tab struct {
	ID           string
	Title        string
	DatasourceID string
	// Schema is the advisory default schema for the tab; the server may
	// ignore it.
	Schema    string
	QueryText string

	// Exec and Page are derived from the current execution and are never
	// persisted.
	Exec ExecutionRecord
	Page ResultPage
}

// ExecutionRecord tracks at most one in-flight or last-completed
// execution for a tab. The zero value means nothing has been submitted.
type ExecutionRecord struct {
	// ID is the server-assigned execution id; empty until submission
	// succeeds. Updates bearing any other id must be discarded.
	ID string

	// Submitting is set between the run request and the submission
	// response, before an execution id exists.
	Submitting bool

	Status          query.Status
	Message         string
	ErrorSummary    string
	QueryHash       string
	RowCount        int64
	ColumnCount     int
	RowLimitReached bool
}

// InFlight reports whether the tab has a non-terminal execution, i.e. a
// new run must be rejected.
func (r ExecutionRecord) InFlight() bool {
	if r.Submitting {
		return true
	}
	return r.ID != "" && !r.Status.Terminal()
}

// ResultPage is the currently displayed page of a SUCCEEDED execution.
// Page contents are only meaningful while they belong to the tab's
// current execution id.
type ResultPage struct {
	Columns []query.Column
	Rows    []query.Row

	// NextToken is the opaque cursor for the following page; empty when
	// this is the last page.
	NextToken string
	// CurrentToken is the token that produced this page; empty for the
	// first page.
	CurrentToken string
	// BackStack holds the tokens used to reach the current page, oldest
	// first, for backward navigation.
	BackStack []string

	// Loaded distinguishes an empty first page from no page at all.
	Loaded bool
}

// HasNext reports whether forward navigation is possible.
func (p ResultPage) HasNext() bool { return p.NextToken != "" }

// HasPrevious reports whether backward navigation is possible.
func (p ResultPage) HasPrevious() bool { return len(p.BackStack) > 0 }
