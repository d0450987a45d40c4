package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/leapstack-labs/querydesk/pkg/query"
)

// StreamEvents opens the push status stream and invokes fn for every
// status event until the stream ends or ctx is cancelled. The stream
// carries no delivery guarantee; callers must treat it as a hint
// channel and reconcile against the authoritative status endpoint.
//
// Returns nil when ctx was cancelled, otherwise the error that closed
// the stream.
func (c *Client) StreamEvents(ctx context.Context, fn func(query.StatusEvent)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/queries/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &Error{Message: humanizeTransport(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line ends one event.
			c.dispatchEvent(data.String(), fn)
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event name, id, retry and comment lines carry nothing we
			// need: correlation is by executionId in the payload.
		}
	}
	c.dispatchEvent(data.String(), fn)

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return &Error{Message: humanizeTransport(err)}
	}
	return &Error{Message: "event stream closed by server"}
}

// dispatchEvent decodes one event payload. Payloads that do not parse
// as a status event are dropped: the stream may interleave other event
// kinds.
func (c *Client) dispatchEvent(payload string, fn func(query.StatusEvent)) {
	if payload == "" {
		return
	}
	var ev query.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.logger.Debug("dropping unparseable stream event", "error", err)
		return
	}
	if ev.ExecutionID == "" {
		return
	}
	fn(ev)
}
