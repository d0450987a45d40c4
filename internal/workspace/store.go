package workspace

import "time"

// PersistedTab is the durable shape of a tab. Execution and result
// fields are deliberately absent: they never survive a restart.
type PersistedTab struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	DatasourceID string `json:"datasourceId"`
	Schema       string `json:"schema"`
	QueryText    string `json:"queryText"`
}

// PersistedState is the single serialized workspace record.
type PersistedState struct {
	ActiveTabID string         `json:"activeTabId"`
	Tabs        []PersistedTab `json:"tabs"`
}

// Store persists the workspace state. Implementations must treat
// malformed or missing stored data as absence of state, never as an
// error that prevents startup.
type Store interface {
	// Load returns the persisted state, or (nil, nil) when there is no
	// usable state.
	Load() (*PersistedState, error)
	// Save replaces the persisted state. Writes are last-writer-wins.
	Save(state PersistedState) error
}

// HistoryEntry is one completed execution recorded in the local query
// history.
type HistoryEntry struct {
	ID           string
	DatasourceID string
	SQL          string
	Status       string
	Error        string
	ExecutedAt   time.Time
}

// HistoryStore records completed executions for later recall.
type HistoryStore interface {
	AddHistory(entry HistoryEntry) error
	ListHistory(limit int) ([]HistoryEntry, error)
}
