package eventbus_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventbus/testbus"
	"github.com/colonyops/coach/internal/core/session"
)

func TestRegisterDebugLogger(t *testing.T) {
	tb := testbus.New(t)

	// Register with a nop logger; verifies no panic.
	eventbus.RegisterDebugLogger(tb.EventBus, zerolog.Nop())

	tb.PublishChatUpdated(eventbus.ChatUpdatedPayload{})
	tb.PublishDocumentsInvalidated(eventbus.DocumentsInvalidatedPayload{DocumentID: "g1"})
	tb.PublishConnectionStatusChanged(eventbus.ConnectionStatusChangedPayload{
		Connection: session.Connection{Status: session.StatusConnected},
	})

	tb.AssertPublished(t, eventbus.EventConnectionStatusChanged)
}
