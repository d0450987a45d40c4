// Package api implements the HTTP client for the remote query
// execution service. It converts every transport or server failure
// into a human-readable Error at the boundary; raw transport errors
// never leak into workspace state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/querydesk/pkg/query"
)

// DefaultTimeout bounds individual request/response calls. The event
// stream is exempt: it stays open for the whole session.
const DefaultTimeout = 30 * time.Second

// TokenProvider supplies the CSRF token attached to non-GET requests.
// Token issuance itself is an external collaborator.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token(_ context.Context) (string, error) { return string(t), nil }

// Error is a failure reported by the query service or the transport,
// reduced to a single human-readable message.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query service: %s (HTTP %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("query service: %s", e.Message)
}

// Config holds configuration for the client.
type Config struct {
	// BaseURL is the root of the query service, e.g. "https://host/api".
	BaseURL string
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
	// Tokens supplies CSRF tokens for non-GET requests. Optional.
	Tokens TokenProvider
	// Timeout bounds individual calls. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the transport. Must not set a client-level
	// timeout or the event stream will be cut off.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the remote query service.
type Client struct {
	baseURL   *url.URL
	authToken string
	tokens    TokenProvider
	timeout   time.Duration
	httpc     *http.Client
	logger    *slog.Logger
}

// NewClient creates a new Client instance.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing scheme or host", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   base,
		authToken: cfg.AuthToken,
		tokens:    cfg.Tokens,
		timeout:   timeout,
		httpc:     httpc,
		logger:    logger,
	}, nil
}

// SubmitResult is the response to a submission request.
type SubmitResult struct {
	ExecutionID string       `json:"executionId"`
	Status      query.Status `json:"status"`
	QueryHash   string       `json:"queryHash"`
}

// ExecutionState is the authoritative status payload, returned by both
// the status fetch and the cancel endpoint.
type ExecutionState struct {
	Status          query.Status `json:"status"`
	Message         string       `json:"message"`
	ErrorSummary    string       `json:"errorSummary"`
	RowCount        int64        `json:"rowCount"`
	ColumnCount     int          `json:"columnCount"`
	RowLimitReached bool         `json:"rowLimitReached"`
	QueryHash       string       `json:"queryHash"`
}

// Page is one slice of results for a succeeded execution.
type Page struct {
	Columns         []query.Column `json:"columns"`
	Rows            []query.Row    `json:"rows"`
	NextPageToken   string         `json:"nextPageToken"`
	RowLimitReached bool           `json:"rowLimitReached"`
}

// Submit starts a new execution of the given SQL on a datasource.
func (c *Client) Submit(ctx context.Context, datasourceID, sqlText string) (*SubmitResult, error) {
	body := map[string]string{
		"datasourceId": datasourceID,
		"sql":          sqlText,
	}
	var out SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/queries", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the authoritative status of an execution.
func (c *Client) Status(ctx context.Context, executionID string) (*ExecutionState, error) {
	var out ExecutionState
	path := "/queries/" + url.PathEscape(executionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cancellation of an execution. Best effort: the server
// decides the true final state.
func (c *Client) Cancel(ctx context.Context, executionID string) (*ExecutionState, error) {
	var out ExecutionState
	path := "/queries/" + url.PathEscape(executionID) + "/cancel"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResultsPage fetches one page of results using an opaque cursor token.
// An empty token requests the first page.
func (c *Client) ResultsPage(ctx context.Context, executionID string, pageSize int, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("pageToken", pageToken)
	path := "/queries/" + url.PathEscape(executionID) + "/results?" + q.Encode()

	var out Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportCSV streams the full result set as CSV into w and returns the
// filename suggested by the server, if any.
func (c *Client) ExportCSV(ctx context.Context, executionID string, headers bool, w io.Writer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := "/queries/" + url.PathEscape(executionID) + "/export.csv?headers=" + strconv.FormatBool(headers)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &Error{Message: humanizeTransport(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", c.responseError(resp)
	}

	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", &Error{Message: humanizeTransport(err)}
	}
	return filename, nil
}

// doJSON performs one bounded request with a JSON request/response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Message: humanizeTransport(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Message: "malformed response from server"}
		}
	}
	return nil
}

// newRequest builds a request with session credentials and, for non-GET
// methods, a CSRF token.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if method != http.MethodGet && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Message: "could not obtain a request token"}
		}
		req.Header.Set("X-CSRF-Token", token)
	}
	return req, nil
}

// responseError turns a non-2xx response into an Error, preferring the
// server's own message when the body carries one.
func (c *Client) responseError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else if payload.Error != "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}

// humanizeTransport reduces a transport error to something a user can
// act on without exposing Go error chains.
func humanizeTransport(err error) string {
	switch {
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return "the server did not respond in time"
	case strings.Contains(err.Error(), "connection refused"):
		return "could not connect to the server"
	default:
		return "request failed: " + err.Error()
	}
}
