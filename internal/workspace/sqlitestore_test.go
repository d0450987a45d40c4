package workspace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore()

	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestSQLiteStore_Load_Empty(t *testing.T) {
	store := setupSQLiteStore(t)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSQLiteStore_SaveLoad_RoundTrip(t *testing.T) {
	store := setupSQLiteStore(t)

	saved := PersistedState{
		ActiveTabID: "tab-2",
		Tabs: []PersistedTab{
			{ID: "tab-1", Title: "Orders", DatasourceID: "ds-1", Schema: "sales", QueryText: "SELECT * FROM orders"},
			{ID: "tab-2", Title: "Untitled", DatasourceID: "ds-2"},
		},
	}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved, *loaded)
}

func TestSQLiteStore_Save_ReplacesPreviousState(t *testing.T) {
	store := setupSQLiteStore(t)

	require.NoError(t, store.Save(PersistedState{
		ActiveTabID: "a",
		Tabs:        []PersistedTab{{ID: "a"}, {ID: "b"}},
	}))
	require.NoError(t, store.Save(PersistedState{
		ActiveTabID: "c",
		Tabs:        []PersistedTab{{ID: "c"}},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "c", loaded.ActiveTabID)
	require.Len(t, loaded.Tabs, 1)
	assert.Equal(t, "c", loaded.Tabs[0].ID)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")

	store := NewSQLiteStore()
	require.NoError(t, store.Open(path))
	require.NoError(t, store.Save(PersistedState{
		ActiveTabID: "a",
		Tabs:        []PersistedTab{{ID: "a", Title: "Kept", QueryText: "SELECT 1"}},
	}))
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore()
	require.NoError(t, reopened.Open(path))
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Tabs, 1)
	assert.Equal(t, "Kept", loaded.Tabs[0].Title)
	assert.Equal(t, "SELECT 1", loaded.Tabs[0].QueryText)
}

func TestSQLiteStore_History(t *testing.T) {
	store := setupSQLiteStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []string{"SUCCEEDED", "FAILED", "CANCELED"} {
		require.NoError(t, store.AddHistory(HistoryEntry{
			DatasourceID: "ds-1",
			SQL:          "SELECT 1",
			Status:       status,
			ExecutedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := store.ListHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first
	assert.Equal(t, "CANCELED", entries[0].Status)
	assert.Equal(t, "SUCCEEDED", entries[2].Status)

	// Ids are assigned when absent
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
	}

	limited, err := store.ListHistory(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
