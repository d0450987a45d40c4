package workspace

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultTabTitle is the title given to tabs created without one.
const DefaultTabTitle = "Untitled"

// Registry owns the collection of workspace tabs and the active-tab
// selection. It is the single mutation path for tab state: every other
// component addresses tabs by id and mutates them through UpdateTab.
//
// Mutator functions must replace slice fields wholesale rather than
// mutating elements in place, so that snapshots handed out earlier stay
// valid.
type Registry struct {
	mu        sync.Mutex
	tabs      []*Tab
	activeID  string
	store     Store
	permitted []string
	notifier  *Notifier
	logger    *slog.Logger
}

// NewRegistry creates a registry from persisted state. Tabs referencing
// a datasource no longer in the permitted set are remapped to the first
// permitted datasource (or left unset if none). When nothing usable is
// persisted, the registry seeds exactly one default tab.
func NewRegistry(store Store, permittedDatasources []string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		store:     store,
		permitted: append([]string(nil), permittedDatasources...),
		notifier:  NewNotifier(),
		logger:    logger,
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	if state != nil {
		for _, p := range state.Tabs {
			tab := &Tab{
				ID:           p.ID,
				Title:        p.Title,
				DatasourceID: p.DatasourceID,
				Schema:       p.Schema,
				QueryText:    p.QueryText,
			}
			if tab.ID == "" {
				tab.ID = uuid.New().String()
			}
			if tab.Title == "" {
				tab.Title = DefaultTabTitle
			}
			if !r.isPermitted(tab.DatasourceID) {
				tab.DatasourceID = r.defaultDatasource()
			}
			r.tabs = append(r.tabs, tab)
		}
		r.activeID = state.ActiveTabID
	}

	if len(r.tabs) == 0 {
		r.tabs = append(r.tabs, r.newDefaultTab())
	}
	if r.findIndex(r.activeID) < 0 {
		r.activeID = r.tabs[0].ID
	}

	r.persist()
	return r, nil
}

// Notifier returns the change notifier. Subscribers receive a ping
// after every mutation and should re-read the registry.
func (r *Registry) Notifier() *Notifier { return r.notifier }

// Permitted returns the permitted datasource ids.
func (r *Registry) Permitted() []string {
	return append([]string(nil), r.permitted...)
}

// IsPermitted reports whether the datasource id is in the permitted set.
func (r *Registry) IsPermitted(datasourceID string) bool {
	return r.isPermitted(datasourceID) && datasourceID != ""
}

func (r *Registry) isPermitted(datasourceID string) bool {
	if datasourceID == "" {
		return len(r.permitted) == 0
	}
	for _, id := range r.permitted {
		if id == datasourceID {
			return true
		}
	}
	return false
}

func (r *Registry) defaultDatasource() string {
	if len(r.permitted) == 0 {
		return ""
	}
	return r.permitted[0]
}

func (r *Registry) newDefaultTab() *Tab {
	return &Tab{
		ID:           uuid.New().String(),
		Title:        DefaultTabTitle,
		DatasourceID: r.defaultDatasource(),
	}
}

// CreateTab appends a new tab and makes it active. Returns the tab id.
func (r *Registry) CreateTab(datasourceID, title, queryText string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if title == "" {
		title = DefaultTabTitle
	}
	if !r.isPermitted(datasourceID) {
		datasourceID = r.defaultDatasource()
	}
	tab := &Tab{
		ID:           uuid.New().String(),
		Title:        title,
		DatasourceID: datasourceID,
		QueryText:    queryText,
	}
	r.tabs = append(r.tabs, tab)
	r.activeID = tab.ID

	r.persist()
	r.notifier.Broadcast()
	return tab.ID
}

// CloseTab removes a tab. Closing the sole tab replaces it with a fresh
// blank tab; otherwise the immediately preceding remaining tab (or the
// first) becomes active. Callers are responsible for cancelling any
// in-flight execution and stopping its tracking first.
func (r *Registry) CloseTab(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return
	}

	if len(r.tabs) == 1 {
		fresh := r.newDefaultTab()
		r.tabs = []*Tab{fresh}
		r.activeID = fresh.ID
	} else {
		r.tabs = append(r.tabs[:i], r.tabs[i+1:]...)
		if r.activeID == tabID {
			if i > 0 {
				r.activeID = r.tabs[i-1].ID
			} else {
				r.activeID = r.tabs[0].ID
			}
		}
	}

	r.persist()
	r.notifier.Broadcast()
}

// RenameTab sets a tab's title. No-op when the trimmed title is empty.
func (r *Registry) RenameTab(tabID, newTitle string) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return
	}
	r.tabs[i].Title = newTitle

	r.persist()
	r.notifier.Broadcast()
}

// SetQueryText updates a tab's query text and persists it.
func (r *Registry) SetQueryText(tabID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return
	}
	r.tabs[i].QueryText = text

	r.persist()
	r.notifier.Broadcast()
}

// SetSchema updates a tab's advisory default schema and persists it.
func (r *Registry) SetSchema(tabID, schema string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return
	}
	r.tabs[i].Schema = schema

	r.persist()
	r.notifier.Broadcast()
}

// SetDatasource updates a tab's target datasource and persists it.
// No-op when the datasource is not permitted.
func (r *Registry) SetDatasource(tabID, datasourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isPermitted(datasourceID) {
		return
	}
	i := r.findIndex(tabID)
	if i < 0 {
		return
	}
	r.tabs[i].DatasourceID = datasourceID

	r.persist()
	r.notifier.Broadcast()
}

// UpdateTab applies a mutation to exactly one tab under the registry
// lock. No-op when the tab no longer exists. Execution and result
// fields changed here are not persisted.
func (r *Registry) UpdateTab(tabID string, fn func(*Tab)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return
	}
	fn(r.tabs[i])
	r.notifier.Broadcast()
}

// SetActiveTab selects the active tab. No-op for unknown ids.
func (r *Registry) SetActiveTab(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findIndex(tabID) < 0 {
		return
	}
	r.activeID = tabID

	r.persist()
	r.notifier.Broadcast()
}

// ActiveTab returns a snapshot of the active tab.
func (r *Registry) ActiveTab() (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(r.activeID)
	if i < 0 {
		return Tab{}, false
	}
	return *r.tabs[i], true
}

// ActiveTabID returns the id of the active tab.
func (r *Registry) ActiveTabID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Get returns a snapshot of the tab with the given id.
func (r *Registry) Get(tabID string) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findIndex(tabID)
	if i < 0 {
		return Tab{}, false
	}
	return *r.tabs[i], true
}

// Tabs returns a snapshot of all tabs in display order.
func (r *Registry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Tab, len(r.tabs))
	for i, t := range r.tabs {
		out[i] = *t
	}
	return out
}

// findIndex must be called with the lock held.
func (r *Registry) findIndex(tabID string) int {
	for i, t := range r.tabs {
		if t.ID == tabID {
			return i
		}
	}
	return -1
}

// persist writes the structural state. Must be called with the lock
// held. Persistence failures are logged, not propagated: a broken disk
// must not break the in-memory workspace.
func (r *Registry) persist() {
	state := PersistedState{ActiveTabID: r.activeID}
	for _, t := range r.tabs {
		state.Tabs = append(state.Tabs, PersistedTab{
			ID:           t.ID,
			Title:        t.Title,
			DatasourceID: t.DatasourceID,
			Schema:       t.Schema,
			QueryText:    t.QueryText,
		})
	}
	if err := r.store.Save(state); err != nil {
		r.logger.Warn("failed to persist workspace", "error", err)
	}
}
