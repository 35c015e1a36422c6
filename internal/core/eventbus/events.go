// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within coach.
package eventbus

import (
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/session"
)

// Event names a bus topic.
type Event string

// Keep list sorted A-Z.
const (
	EventChatUpdated             Event = "chat.updated"
	EventConnectionStatusChanged Event = "connection.status-changed"
	EventDocumentsInvalidated    Event = "documents.invalidated"
	EventDraftMutationDiscarded  Event = "draft.mutation-discarded"
	EventDraftUpdated            Event = "draft.updated"
	EventNotificationPublished   Event = "notification.published"
	EventServerError             Event = "server.error"
	EventToolFailed              Event = "tool.failed"
)

// Events lists every topic with its payload type.
var Events = map[Event]any{
	EventChatUpdated:             ChatUpdatedPayload{},
	EventConnectionStatusChanged: ConnectionStatusChangedPayload{},
	EventDocumentsInvalidated:    DocumentsInvalidatedPayload{},
	EventDraftMutationDiscarded:  DraftMutationDiscardedPayload{},
	EventDraftUpdated:            DraftUpdatedPayload{},
	EventNotificationPublished:   NotificationPublishedPayload{},
	EventServerError:             ServerErrorPayload{},
	EventToolFailed:              ToolFailedPayload{},
}

// ChatUpdatedPayload is emitted after every chat state change.
type ChatUpdatedPayload struct {
	Snapshot session.Snapshot
}

// ConnectionStatusChangedPayload is emitted when the transport changes status.
type ConnectionStatusChangedPayload struct {
	Connection session.Connection
}

// DocumentsInvalidatedPayload is emitted when cached document listings are
// stale. DocumentID is set when a single document's detail is also stale.
type DocumentsInvalidatedPayload struct {
	DocumentID string
}

// DraftMutationDiscardedPayload is emitted when an assistant edit lost to
// unsaved local keystrokes.
type DraftMutationDiscardedPayload struct {
	DocumentID string
	Title      string
}

// DraftUpdatedPayload is emitted when a draft's content or flags change.
type DraftUpdatedPayload struct {
	Draft document.Draft
}

// NotificationPublishedPayload is emitted for user-facing notices.
type NotificationPublishedPayload struct {
	Level   notify.Level
	Message string
	Source  Event
}

// ServerErrorPayload is emitted when the server reports an application error.
type ServerErrorPayload struct {
	Message       string
	NextAvailable string
}

// ToolFailedPayload is emitted when an assistant tool call fails.
type ToolFailedPayload struct {
	Tool  string
	Error string
}
