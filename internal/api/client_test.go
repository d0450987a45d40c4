package api_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydesk/internal/api"
	"github.com/leapstack-labs/querydesk/internal/testutil"
	"github.com/leapstack-labs/querydesk/pkg/query"
)

func newTestClient(t *testing.T, svc *testutil.FakeService, mutate func(*api.Config)) *api.Client {
	t.Helper()
	cfg := api.Config{
		BaseURL: svc.URL(),
		Logger:  testutil.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := api.NewClient(cfg)
	require.NoError(t, err)
	return client
}

func strPtr(s string) *string { return &s }

func TestNewClient_RejectsBadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "localhost:8080"},
		{"garbage", "://nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.NewClient(api.Config{BaseURL: tt.url})
			assert.Error(t, err)
		})
	}
}

func TestClient_Submit(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	res, err := client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ExecutionID)
	assert.Equal(t, query.StatusQueued, res.Status)
	assert.Equal(t, "hash-1", res.QueryHash)

	exec, ok := svc.Execution("exec-1")
	require.True(t, ok)
	assert.Equal(t, "ds-1", exec.DatasourceID)
	assert.Equal(t, "SELECT 1", exec.SQL)
}

func TestClient_Submit_ServerErrorMessageSurfaces(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.FailSubmit("datasource is offline")
	client := newTestClient(t, svc, nil)

	_, err := client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "datasource is offline", apiErr.Message)
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestClient_Submit_ConnectionRefusedIsHumanized(t *testing.T) {
	client, err := api.NewClient(api.Config{
		BaseURL: "http://127.0.0.1:1",
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not connect to the server")
	assert.NotContains(t, err.Error(), "dial tcp")
}

func TestClient_CSRFTokenOnNonGET(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.RequireToken("tok-123")

	withToken := newTestClient(t, svc, func(cfg *api.Config) {
		cfg.Tokens = api.StaticToken("tok-123")
	})
	_, err := withToken.Submit(context.Background(), "ds-1", "SELECT 1")
	assert.NoError(t, err)

	withoutToken := newTestClient(t, svc, nil)
	_, err = withoutToken.Submit(context.Background(), "ds-1", "SELECT 1")
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)
}

func TestClient_StatusAndCancel(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	res, err := client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.NoError(t, err)

	state, err := client.Status(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, query.StatusQueued, state.Status)

	state, err = client.Cancel(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, query.StatusCanceled, state.Status)

	// Cancel after terminal leaves the state alone
	svc.Complete(res.ExecutionID, query.StatusCanceled, "")
	state, err = client.Cancel(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, query.StatusCanceled, state.Status)
}

func TestClient_Status_UnknownExecution(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	_, err := client.Status(context.Background(), "exec-nope")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestClient_ResultsPage_Cursors(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	res, err := client.Submit(context.Background(), "ds-1", "SELECT n FROM numbers")
	require.NoError(t, err)

	rows := make([]query.Row, 5)
	for i := range rows {
		rows[i] = query.Row{strPtr(string(rune('a' + i)))}
	}
	svc.SetResults(res.ExecutionID, []query.Column{{Name: "n", JDBCType: "VARCHAR"}}, rows, false)

	first, err := client.ResultsPage(context.Background(), res.ExecutionID, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Rows, 2)
	assert.Equal(t, "a", *first.Rows[0][0])
	require.NotEmpty(t, first.NextPageToken)

	second, err := client.ResultsPage(context.Background(), res.ExecutionID, 2, first.NextPageToken)
	require.NoError(t, err)
	require.Len(t, second.Rows, 2)
	assert.Equal(t, "c", *second.Rows[0][0])

	last, err := client.ResultsPage(context.Background(), res.ExecutionID, 2, second.NextPageToken)
	require.NoError(t, err)
	require.Len(t, last.Rows, 1)
	assert.Empty(t, last.NextPageToken)
}

func TestClient_ResultsPage_NullCells(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	res, err := client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.NoError(t, err)
	svc.SetResults(res.ExecutionID,
		[]query.Column{{Name: "v", JDBCType: "VARCHAR"}},
		[]query.Row{{nil}, {strPtr("x")}}, false)

	page, err := client.ResultsPage(context.Background(), res.ExecutionID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Nil(t, page.Rows[0][0])
	require.NotNil(t, page.Rows[1][0])
	assert.Equal(t, "x", *page.Rows[1][0])
}

func TestClient_ExportCSV(t *testing.T) {
	svc := testutil.NewFakeService(t)
	client := newTestClient(t, svc, nil)

	res, err := client.Submit(context.Background(), "ds-1", "SELECT 1")
	require.NoError(t, err)
	svc.SetResults(res.ExecutionID,
		[]query.Column{{Name: "id", JDBCType: "INTEGER"}, {Name: "name", JDBCType: "VARCHAR"}},
		[]query.Row{{strPtr("1"), strPtr("alice")}, {strPtr("2"), nil}}, false)

	var buf bytes.Buffer
	filename, err := client.ExportCSV(context.Background(), res.ExecutionID, true, &buf)
	require.NoError(t, err)
	assert.Equal(t, res.ExecutionID+".csv", filename)
	assert.Equal(t, "id,name\n1,alice\n2,\n", buf.String())
}
