package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/leapstack-labs/querydesk/internal/workspace"
)

// WritePageCSV writes the tab's current result page as CSV. A nil cell
// renders as the empty string; cells containing a comma, quote, or
// newline are quoted with internal quotes doubled.
func WritePageCSV(w io.Writer, page workspace.ResultPage, headers bool) error {
	if headers {
		names := make([]string, len(page.Columns))
		for i, col := range page.Columns {
			names[i] = formatCSVCell(&col.Name)
		}
		if _, err := fmt.Fprintln(w, strings.Join(names, ",")); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for _, row := range page.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = formatCSVCell(cell)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, ",")); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}

// formatCSVCell renders one nullable cell. Plain cells pass through
// unchanged.
func formatCSVCell(cell *string) string {
	if cell == nil {
		return ""
	}
	s := *cell
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
