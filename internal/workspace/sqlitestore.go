package workspace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore persists the workspace and the local query history in a
// SQLite database. It implements both Store and HistoryStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database and runs migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return s.migrate()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate runs all pending database migrations.
func (s *SQLiteStore) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Load reads the persisted workspace. Returns (nil, nil) when no tabs
// have been saved yet.
func (s *SQLiteStore) Load() (*PersistedState, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(`SELECT id, title, datasource_id, schema_name, query_text
		FROM tabs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tabs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var state PersistedState
	for rows.Next() {
		var t PersistedTab
		if err := rows.Scan(&t.ID, &t.Title, &t.DatasourceID, &t.Schema, &t.QueryText); err != nil {
			return nil, fmt.Errorf("failed to scan tab: %w", err)
		}
		state.Tabs = append(state.Tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tabs: %w", err)
	}
	if len(state.Tabs) == 0 {
		return nil, nil
	}

	err = s.db.QueryRow(`SELECT active_tab_id FROM workspace WHERE slot = 1`).Scan(&state.ActiveTabID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load active tab: %w", err)
	}
	return &state, nil
}

// Save replaces the persisted workspace in one transaction.
func (s *SQLiteStore) Save(state PersistedState) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM tabs`); err != nil {
		return fmt.Errorf("failed to clear tabs: %w", err)
	}
	for i, t := range state.Tabs {
		_, err := tx.Exec(`INSERT INTO tabs (id, position, title, datasource_id, schema_name, query_text)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, i, t.Title, t.DatasourceID, t.Schema, t.QueryText)
		if err != nil {
			return fmt.Errorf("failed to insert tab: %w", err)
		}
	}

	_, err = tx.Exec(`INSERT INTO workspace (slot, active_tab_id) VALUES (1, ?)
		ON CONFLICT (slot) DO UPDATE SET active_tab_id = excluded.active_tab_id`,
		state.ActiveTabID)
	if err != nil {
		return fmt.Errorf("failed to save active tab: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workspace state: %w", err)
	}
	return nil
}

// AddHistory records one completed execution.
func (s *SQLiteStore) AddHistory(entry HistoryEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}

	_, err := s.db.Exec(`INSERT INTO query_history (id, datasource_id, sql_text, status, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DatasourceID, entry.SQL, entry.Status, entry.Error, entry.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent history entries, newest first.
func (s *SQLiteStore) ListHistory(limit int) ([]HistoryEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(`SELECT id, datasource_id, sql_text, status, error, executed_at
		FROM query_history ORDER BY executed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.DatasourceID, &e.SQL, &e.Status, &e.Error, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}
