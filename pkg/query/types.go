package query

import "time"

// Column describes one result column: its name and the source type tag
// reported by the backing JDBC driver.
type Column struct {
	Name     string `json:"name"`
	JDBCType string `json:"jdbcType"`
}

// Row is one result row. Cells are nullable: a nil cell is SQL NULL.
type Row []*string

// StatusEvent is one message from the push status stream. Events arrive
// in arbitrary order and with no delivery guarantee; consumers must
// correlate purely by ExecutionID.
type StatusEvent struct {
	ExecutionID string    `json:"executionId"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurredAt"`
}
