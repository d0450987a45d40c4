// Package tui implements the terminal workbench: a tabbed SQL editor
// over a live session, with execution status and paged results.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/querydesk/internal/session"
	"github.com/leapstack-labs/querydesk/internal/workspace"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

type focusArea int

const (
	focusEditor focusArea = iota
	focusResults
)

// Messages.
type (
	workspaceChangedMsg struct{}
	errMsg              struct{ err error }
)

// Model is the bubbletea model for the workbench.
type Model struct {
	session *session.Session

	editor  textarea.Model
	results table.Model
	focus   focusArea

	width  int
	height int

	// flash is a transient error line shown until the next action.
	flash string

	updates chan struct{}
}

// NewModel creates the workbench model over a running session.
func NewModel(sess *session.Session) Model {
	editor := textarea.New()
	editor.Placeholder = "SELECT ..."
	editor.ShowLineNumbers = false
	editor.Focus()

	results := table.New(table.WithFocused(false))

	m := Model{
		session: sess,
		editor:  editor,
		results: results,
		updates: sess.Registry.Notifier().Subscribe(),
	}
	if tab, ok := sess.Registry.ActiveTab(); ok {
		m.editor.SetValue(tab.QueryText)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChange())
}

// waitForChange resumes the update loop whenever the registry changes.
func (m Model) waitForChange() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		<-updates
		return workspaceChangedMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshResults()
		return m, nil

	case workspaceChangedMsg:
		m.refreshResults()
		return m, m.waitForChange()

	case errMsg:
		if msg.err != nil {
			m.flash = msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.routeToFocused(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "ctrl+r":
		tab, ok := m.session.Registry.ActiveTab()
		if !ok {
			return m, nil
		}
		sqlText := m.editor.Value()
		m.session.Registry.SetQueryText(tab.ID, sqlText)
		return m, m.runCmd(tab.ID, sqlText)

	case "ctrl+x":
		tab, ok := m.session.Registry.ActiveTab()
		if !ok {
			return m, nil
		}
		return m, m.cancelCmd(tab.ID)

	case "ctrl+t":
		m.session.Registry.CreateTab("", "", "")
		m.editor.SetValue("")
		return m, nil

	case "ctrl+w":
		if tab, ok := m.session.Registry.ActiveTab(); ok {
			m.session.CloseTab(tab.ID)
			if next, ok := m.session.Registry.ActiveTab(); ok {
				m.editor.SetValue(next.QueryText)
			}
		}
		return m, nil

	case "ctrl+left":
		m.switchTab(-1)
		return m, nil

	case "ctrl+right":
		m.switchTab(1)
		return m, nil

	case "esc":
		if m.focus == focusEditor {
			m.focus = focusResults
			m.editor.Blur()
			m.results.Focus()
		} else {
			m.focus = focusEditor
			m.results.Blur()
			cmd := m.editor.Focus()
			return m, cmd
		}
		return m, nil
	}

	if m.focus == focusResults {
		switch msg.String() {
		case "n", "pgdown":
			if tab, ok := m.session.Registry.ActiveTab(); ok && tab.Page.HasNext() {
				return m, m.pageCmd(tab.ID, true)
			}
			return m, nil
		case "p", "pgup":
			if tab, ok := m.session.Registry.ActiveTab(); ok && tab.Page.HasPrevious() {
				return m, m.pageCmd(tab.ID, false)
			}
			return m, nil
		}
	}

	return m.routeToFocused(msg)
}

func (m Model) routeToFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.focus == focusEditor {
		m.editor, cmd = m.editor.Update(msg)
	} else {
		m.results, cmd = m.results.Update(msg)
	}
	return m, cmd
}

func (m Model) runCmd(tabID, sqlText string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		if err := sess.Controller.Run(context.Background(), tabID, sqlText, session.RunKindQuery); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) cancelCmd(tabID string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		if err := sess.Controller.Cancel(context.Background(), tabID); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) pageCmd(tabID string, forward bool) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		var err error
		if forward {
			err = sess.Pager.Next(context.Background(), tabID)
		} else {
			err = sess.Pager.Previous(context.Background(), tabID)
		}
		if err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) switchTab(delta int) {
	tabs := m.session.Registry.Tabs()
	if len(tabs) == 0 {
		return
	}
	activeID := m.session.Registry.ActiveTabID()
	idx := 0
	for i, t := range tabs {
		if t.ID == activeID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(tabs)) % len(tabs)
	m.session.Registry.SetActiveTab(tabs[idx].ID)
	m.editor.SetValue(tabs[idx].QueryText)
	m.refreshResults()
}

func (m *Model) layout() {
	if m.width <= 0 {
		return
	}
	m.editor.SetWidth(m.width - 2)
	m.editor.SetHeight(editorHeight)

	tableHeight := m.height - editorHeight - 6
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.results.SetHeight(tableHeight)
	m.results.SetWidth(m.width - 2)
}

const editorHeight = 6

// refreshResults rebuilds the results table from the active tab's
// current page.
func (m *Model) refreshResults() {
	tab, ok := m.session.Registry.ActiveTab()
	if !ok || !tab.Page.Loaded {
		m.results.SetColumns(nil)
		m.results.SetRows(nil)
		return
	}

	width := m.width - 4
	if width < 20 {
		width = 80
	}
	colWidth := 12
	if len(tab.Page.Columns) > 0 {
		colWidth = width / len(tab.Page.Columns)
		if colWidth < 8 {
			colWidth = 8
		}
	}

	columns := make([]table.Column, len(tab.Page.Columns))
	for i, col := range tab.Page.Columns {
		columns[i] = table.Column{Title: col.Name, Width: colWidth}
	}
	rows := make([]table.Row, len(tab.Page.Rows))
	for i, row := range tab.Page.Rows {
		cells := make(table.Row, len(row))
		for j, cell := range row {
			if cell == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = *cell
			}
		}
		rows[i] = cells
	}

	m.results.SetColumns(columns)
	m.results.SetRows(rows)
}

// View implements tea.Model.
func (m Model) View() string {
	tab, _ := m.session.Registry.ActiveTab()

	var sections []string
	sections = append(sections, m.tabBar())
	sections = append(sections, m.editor.View())
	sections = append(sections, m.statusLine(tab))
	sections = append(sections, m.results.View())
	sections = append(sections, m.footer(tab))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) tabBar() string {
	activeID := m.session.Registry.ActiveTabID()
	var rendered []string
	for _, t := range m.session.Registry.Tabs() {
		title := t.Title
		if title == "" {
			title = workspace.DefaultTabTitle
		}
		if t.ID == activeID {
			rendered = append(rendered, activeTabStyle.Render(title))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Bottom, rendered...)
}

func (m Model) statusLine(tab workspace.Tab) string {
	if m.flash != "" {
		return errorStyle.Render("error: " + m.flash)
	}
	if tab.Exec.ErrorSummary != "" {
		return errorStyle.Render(tab.Exec.ErrorSummary)
	}

	var status string
	switch {
	case tab.Exec.Submitting:
		status = runningStyle.Render(tab.Exec.Message)
	case tab.Exec.Status == "":
		status = mutedStyle.Render("idle")
	case tab.Exec.Status == query.StatusSucceeded:
		status = successStyle.Render(fmt.Sprintf("%s - %d row(s)", tab.Exec.Status, tab.Exec.RowCount))
	case tab.Exec.Status == query.StatusFailed:
		status = errorStyle.Render(string(tab.Exec.Status))
	case tab.Exec.Status == query.StatusCanceled:
		status = mutedStyle.Render(string(tab.Exec.Status))
	default:
		status = runningStyle.Render(string(tab.Exec.Status))
	}

	if tab.DatasourceID != "" {
		status += mutedStyle.Render("  [" + tab.DatasourceID + "]")
	}
	return status
}

func (m Model) footer(tab workspace.Tab) string {
	nav := ""
	if tab.Page.HasPrevious() {
		nav += " p:prev"
	}
	if tab.Page.HasNext() {
		nav += " n:next"
	}
	return helpStyle.Render("ctrl+r run  ctrl+x cancel  ctrl+t/w tab  ctrl+arrows switch  esc focus" + nav + "  ctrl+c quit")
}
