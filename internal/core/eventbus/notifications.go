package eventbus

import (
	"fmt"

	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/session"
)

// NotificationRouter maps domain events to user-facing notifications.
type NotificationRouter struct {
	bus *EventBus
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeDraftMutationDiscarded(func(p DraftMutationDiscardedPayload) {
		name := p.Title
		if name == "" {
			name = p.DocumentID
		}
		r.notifyf(EventDraftMutationDiscarded, notify.LevelWarning,
			"assistant edit to %q was discarded because you have unsaved changes; the document may be stale", name)
	})

	r.bus.SubscribeToolFailed(func(p ToolFailedPayload) {
		if p.Error == "" {
			r.notifyf(EventToolFailed, notify.LevelError, "%s failed", p.Tool)
			return
		}
		r.notifyf(EventToolFailed, notify.LevelError, "%s failed: %s", p.Tool, p.Error)
	})

	r.bus.SubscribeServerError(func(p ServerErrorPayload) {
		if p.NextAvailable != "" {
			r.notifyf(EventServerError, notify.LevelError, "%s (available again %s)", p.Message, p.NextAvailable)
			return
		}
		r.notifyf(EventServerError, notify.LevelError, "%s", p.Message)
	})

	r.bus.SubscribeConnectionStatusChanged(func(p ConnectionStatusChangedPayload) {
		c := p.Connection
		if c.Status != session.StatusDisconnected || !c.Terminal || c.Requested {
			return
		}
		if c.Cause == "" {
			r.notifyf(EventConnectionStatusChanged, notify.LevelWarning, "disconnected; retry to reconnect")
			return
		}
		r.notifyf(EventConnectionStatusChanged, notify.LevelWarning, "disconnected: %s; retry to reconnect", c.Cause)
	})
}

func (r *NotificationRouter) notifyf(source Event, level notify.Level, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Source:  source,
	})
}
