package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventbus/testbus"
	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/session"
)

func latestNotificationPayload(tb *testbus.Bus, t *testing.T) eventbus.NotificationPublishedPayload {
	t.Helper()
	tb.AssertPublished(t, eventbus.EventNotificationPublished)

	var payload eventbus.NotificationPublishedPayload
	for _, e := range tb.Events() {
		if e.Event != eventbus.EventNotificationPublished {
			continue
		}
		p, ok := e.Payload.(eventbus.NotificationPublishedPayload)
		require.True(t, ok)
		payload = p
	}

	return payload
}

func TestNotificationRouter_MutationDiscarded(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishDraftMutationDiscarded(eventbus.DraftMutationDiscardedPayload{DocumentID: "g1", Title: "Run a marathon"})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, notify.LevelWarning, p.Level)
	assert.Contains(t, p.Message, "Run a marathon")
	assert.Contains(t, p.Message, "stale")
	assert.Equal(t, eventbus.EventDraftMutationDiscarded, p.Source)
}

func TestNotificationRouter_MutationDiscarded_fallsBackToID(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishDraftMutationDiscarded(eventbus.DraftMutationDiscardedPayload{DocumentID: "g1"})
	p := latestNotificationPayload(tb, t)

	assert.Contains(t, p.Message, "g1")
}

func TestNotificationRouter_ToolFailed(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishToolFailed(eventbus.ToolFailedPayload{Tool: "update_goal", Error: "goal not found"})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, notify.LevelError, p.Level)
	assert.Contains(t, p.Message, "update_goal")
	assert.Contains(t, p.Message, "goal not found")
}

func TestNotificationRouter_ServerError(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishServerError(eventbus.ServerErrorPayload{Message: "chat locked", NextAvailable: "2026-01-01"})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, notify.LevelError, p.Level)
	assert.Contains(t, p.Message, "chat locked")
	assert.Contains(t, p.Message, "2026-01-01")
}

func TestNotificationRouter_TerminalDisconnect(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishConnectionStatusChanged(eventbus.ConnectionStatusChangedPayload{
		Connection: session.Connection{Status: session.StatusDisconnected, Terminal: true, Cause: "max attempts reached"},
	})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, notify.LevelWarning, p.Level)
	assert.Contains(t, p.Message, "max attempts reached")
}

func TestNotificationRouter_TransientDisconnect_doesNotPublish(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishConnectionStatusChanged(eventbus.ConnectionStatusChangedPayload{
		Connection: session.Connection{Status: session.StatusDisconnected, Attempt: 1},
	})
	tb.AssertNotPublished(t, eventbus.EventNotificationPublished, 100*time.Millisecond)
}

func TestNotificationRouter_ChatUpdated_doesNotPublish(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishChatUpdated(eventbus.ChatUpdatedPayload{})
	tb.AssertNotPublished(t, eventbus.EventNotificationPublished, 100*time.Millisecond)
}

func TestNotificationRouter_RequestedDisconnect_doesNotPublish(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishConnectionStatusChanged(eventbus.ConnectionStatusChangedPayload{
		Connection: session.Connection{Status: session.StatusDisconnected, Terminal: true, Requested: true},
	})
	tb.AssertNotPublished(t, eventbus.EventNotificationPublished, 100*time.Millisecond)
}
