package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/document"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret", 5*time.Second)
}

func TestIssueTicket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/ws-ticket", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ticket":"tk-1","expires_in":30}`))
	})

	ticket, err := c.IssueTicket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tk-1", ticket)
}

func TestIssueTicket_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	})

	_, err := c.IssueTicket(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Could not validate credentials", serr.Message)
}

func TestIssueTicket_EmptyTicket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in":30}`))
	})

	_, err := c.IssueTicket(context.Background())
	assert.Error(t, err)
}

func TestListGoals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/goals", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "active", r.URL.Query().Get("phase"))
		_, _ = w.Write([]byte(`{
			"goals":[{"id":"g1","title":"Run","content":"# Plan","phase":"active","created_at":"2025-03-01T10:00:00","updated_at":"2025-03-02T11:30:00.123456","metadata":{"tags":["health"],"content_format":"markdown"}}],
			"total":21,"page":2,"page_size":20,"total_pages":2}`))
	})

	page, err := c.ListGoals(context.Background(), document.ListOptions{Page: 2, Phase: document.PhaseActive})
	require.NoError(t, err)
	require.Len(t, page.Goals, 1)
	assert.Equal(t, 21, page.Total)
	assert.Equal(t, "Run", page.Goals[0].Title)
	assert.Equal(t, []string{"health"}, page.Goals[0].Metadata.Tags)
	assert.Equal(t, 2025, page.Goals[0].UpdatedAt.Year())
}

func TestListGoals_EmptyIsNonNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"goals":null,"total":0,"page":1,"page_size":20,"total_pages":0}`))
	})

	page, err := c.ListGoals(context.Background(), document.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, page.Goals)
	assert.Empty(t, page.Goals)
}

func TestGetGoal_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND","message":"Goal not found"}`))
	})

	_, err := c.GetGoal(context.Background(), "missing")
	require.ErrorIs(t, err, document.ErrNotFound)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "NOT_FOUND", serr.Kind)
	assert.Equal(t, "Goal not found", serr.Message)
}

func TestUpdateGoal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/goals/g1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"content": "new text"}, body)

		_, _ = w.Write([]byte(`{"id":"g1","title":"Run","content":"new text","updated_at":"2025-03-03T09:00:00"}`))
	})

	goal, err := c.UpdateGoal(context.Background(), "g1", "new text")
	require.NoError(t, err)
	assert.Equal(t, "new text", goal.Content)
}

func TestStatusError_PlainBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down\n"))
	})

	_, err := c.GetGoal(context.Background(), "g1")

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadGateway, serr.Code)
	assert.Equal(t, "upstream down", serr.Message)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
