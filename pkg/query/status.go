// Package query defines the shared types for remote SQL executions:
// lifecycle statuses, result columns, and push status events. It is the
// common vocabulary between the API client, the workspace registry, and
// the session orchestration layer.
package query

// Status is the lifecycle status of a remote execution as reported by
// the query service. The zero value means no execution has been
// submitted yet.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether the status is final. No further transitions
// occur for an execution once it reaches a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
