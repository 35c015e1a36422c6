package devserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/api"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/protocol"
	"github.com/colonyops/coach/internal/transport"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Token == "" {
		opts.Token = "secret"
	}
	opts.Logger = zerolog.Nop()

	srv, err := New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialChat(t *testing.T, ts *httptest.Server, ticket string, isLogin bool) *websocket.Conn {
	t.Helper()
	endpoint, err := transport.ChatURL(ts.URL)
	require.NoError(t, err)

	target := endpoint + "?ticket=" + ticket
	if isLogin {
		target += "&is_login=true"
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.Decode(data)
	require.NoError(t, err)
	return ev
}

func sendFrame(t *testing.T, conn *websocket.Conn, f protocol.Outbound) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readReply collects chunks until the final response.
func readReply(t *testing.T, conn *websocket.Conn) (chunks string, final protocol.Response, others []protocol.Event) {
	t.Helper()
	for {
		switch ev := readEvent(t, conn).(type) {
		case protocol.ResponseChunk:
			chunks += ev.Content
		case protocol.Response:
			return chunks, ev, others
		default:
			others = append(others, ev)
		}
	}
}

func TestREST_RequiresToken(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	client := api.New(ts.URL, "wrong", time.Second)
	_, err := client.IssueTicket(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)

	client = api.New(ts.URL, "secret", time.Second)
	ticket, err := client.IssueTicket(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ticket)
}

func TestREST_Goals(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.Seed(
		document.Goal{ID: "g1", Title: "Run", Content: "# Run", UpdatedAt: document.Timestamp{Time: base}},
		document.Goal{ID: "g2", Title: "Read", Phase: document.PhaseActive, UpdatedAt: document.Timestamp{Time: base.Add(time.Hour)}},
		document.Goal{ID: "g3", Title: "Write", UpdatedAt: document.Timestamp{Time: base.Add(2 * time.Hour)}},
	)
	client := api.New(ts.URL, "secret", time.Second)
	ctx := context.Background()

	t.Run("pages newest first", func(t *testing.T) {
		page, err := client.ListGoals(ctx, document.ListOptions{Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Goals, 2)
		assert.Equal(t, "g3", page.Goals[0].ID)
		assert.Equal(t, "g2", page.Goals[1].ID)

		page, err = client.ListGoals(ctx, document.ListOptions{Page: 2, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page.Goals, 1)
		assert.Equal(t, "g1", page.Goals[0].ID)
	})

	t.Run("filters by phase", func(t *testing.T) {
		page, err := client.ListGoals(ctx, document.ListOptions{Phase: document.PhaseActive})
		require.NoError(t, err)
		require.Len(t, page.Goals, 1)
		assert.Equal(t, "g2", page.Goals[0].ID)
	})

	t.Run("missing goal", func(t *testing.T) {
		_, err := client.GetGoal(ctx, "nope")
		require.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		goal, err := client.UpdateGoal(ctx, "g1", "# Run far")
		require.NoError(t, err)
		assert.Equal(t, "# Run far", goal.Content)
		assert.True(t, goal.UpdatedAt.After(base))

		stored, ok := srv.Goal("g1")
		require.True(t, ok)
		assert.Equal(t, "# Run far", stored.Content)
		assert.Equal(t, []string{"g1"}, srv.Saves())
	})
}

func TestChat_TicketIsSingleUse(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	client := api.New(ts.URL, "secret", time.Second)
	ticket, err := client.IssueTicket(context.Background())
	require.NoError(t, err)

	first := dialChat(t, ts, ticket, true)
	_, ok := readEvent(t, first).(protocol.Connected)
	require.True(t, ok)
	assert.Equal(t, 1, srv.Logins())

	second := dialChat(t, ts, ticket, false)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = second.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, closeInvalidTicket, closeErr.Code)
}

func TestChat_ExpiredTicket(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var skew atomic.Int64
	_, ts := newTestServer(t, Options{
		TicketTTL: time.Second,
		Now:       func() time.Time { return now.Add(time.Duration(skew.Load())) },
	})

	client := api.New(ts.URL, "secret", time.Second)
	ticket, err := client.IssueTicket(context.Background())
	require.NoError(t, err)
	skew.Store(int64(2 * time.Second))

	conn := dialChat(t, ts, ticket, false)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, closeInvalidTicket), "got %v", err)
}

func TestChat_LockedPhaseIsDenied(t *testing.T) {
	_, ts := newTestServer(t, Options{UserPhase: "locked"})
	client := api.New(ts.URL, "secret", time.Second)
	ticket, err := client.IssueTicket(context.Background())
	require.NoError(t, err)

	conn := dialChat(t, ts, ticket, false)
	ev, ok := readEvent(t, conn).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, "tomorrow", ev.NextAvailable)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, closeAccessDenied), "got %v", err)
}

func TestChat_Conversation(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	srv.Seed(document.Goal{ID: "g1", Title: "Run", Content: "# Run"})
	client := api.New(ts.URL, "secret", time.Second)
	ticket, err := client.IssueTicket(context.Background())
	require.NoError(t, err)

	conn := dialChat(t, ts, ticket, true)

	connected, ok := readEvent(t, conn).(protocol.Connected)
	require.True(t, ok)
	assert.NotEmpty(t, connected.SessionID)
	assert.True(t, connected.HasContext)
	assert.Equal(t, "goal_setting", connected.UserPhase)

	welcome, ok := readEvent(t, conn).(protocol.Welcome)
	require.True(t, ok)
	assert.NotEmpty(t, welcome.MessageID)

	t.Run("ping", func(t *testing.T) {
		sendFrame(t, conn, protocol.PingFrame{})
		_, ok := readEvent(t, conn).(protocol.Pong)
		assert.True(t, ok)
	})

	t.Run("echo streams chunks", func(t *testing.T) {
		sendFrame(t, conn, protocol.MessageFrame{
			Content:      "hello coach",
			DraftGoals:   []protocol.DraftGoal{{ID: "g1", Title: "Run", Content: "# Run"}},
			ActiveGoalID: "g1",
		})
		chunks, final, others := readReply(t, conn)
		require.Len(t, others, 1)
		assert.Equal(t, protocol.KindTyping, others[0].Kind())
		assert.Equal(t, final.Content, chunks)
		assert.True(t, strings.HasPrefix(final.Content, "You said: hello coach"))
		assert.Contains(t, final.Content, "focused on g1")
		assert.NotEmpty(t, final.MessageID)

		received := srv.Received()
		require.NotEmpty(t, received)
		assert.Equal(t, "g1", received[len(received)-1].ActiveGoalID)
	})

	t.Run("tool update", func(t *testing.T) {
		sendFrame(t, conn, protocol.MessageFrame{Content: "/tool update g1 # Run daily"})
		_, _, others := readReply(t, conn)
		require.Len(t, others, 2)

		call, ok := others[1].(protocol.ToolCall)
		require.True(t, ok)
		assert.Equal(t, "update_goal", call.Tool)
		assert.True(t, call.Result.Success)
		require.NotNil(t, call.Result.Goal)
		assert.Equal(t, "# Run daily", call.Result.Goal.Content)

		stored, _ := srv.Goal("g1")
		assert.Equal(t, "# Run daily", stored.Content)
		assert.Empty(t, srv.Saves(), "tool edits are not client saves")
	})

	t.Run("tool update unknown goal", func(t *testing.T) {
		sendFrame(t, conn, protocol.MessageFrame{Content: "/tool update nope text"})
		_, _, others := readReply(t, conn)
		require.Len(t, others, 2)
		call := others[1].(protocol.ToolCall)
		assert.False(t, call.Result.Success)
		assert.Equal(t, "Goal not found", call.Result.Error)
	})

	t.Run("focus", func(t *testing.T) {
		sendFrame(t, conn, protocol.MessageFrame{Content: "/tool focus g1"})
		_, _, others := readReply(t, conn)
		require.Len(t, others, 2)
		assert.Equal(t, protocol.FocusGoal{GoalID: "g1"}, others[1])
	})

	t.Run("error", func(t *testing.T) {
		sendFrame(t, conn, protocol.MessageFrame{Content: "/error rate limited"})
		_, ok := readEvent(t, conn).(protocol.Typing)
		require.True(t, ok)
		ev, ok := readEvent(t, conn).(protocol.Error)
		require.True(t, ok)
		assert.Equal(t, "rate limited", ev.Content)
	})
}
