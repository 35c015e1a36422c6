package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus dispatches published payloads to subscribers on a single
// goroutine started by Start. Publishing never blocks; when the buffer is
// full the event is dropped and OnDrop hooks fire. All Publish methods are
// safe on a nil bus.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu   sync.RWMutex
	subs map[Event][]func(any)
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start dispatches events until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := make([]func(any), len(bus.subs[env.event]))
	copy(subs, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.runOnPanic(env.event, env.payload, r)
				}
			}()
			fn(env.payload)
		}()
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
	bus.runOnSubscribe(event)
}

func (bus *EventBus) publish(event Event, payload any) {
	if bus == nil {
		return
	}
	bus.send(event, payload)
}

// PublishChatUpdated publishes EventChatUpdated.
func (bus *EventBus) PublishChatUpdated(p ChatUpdatedPayload) {
	bus.publish(EventChatUpdated, p)
}

// SubscribeChatUpdated subscribes to EventChatUpdated.
func (bus *EventBus) SubscribeChatUpdated(fn func(ChatUpdatedPayload)) {
	bus.subscribe(EventChatUpdated, func(p any) { fn(p.(ChatUpdatedPayload)) })
}

// PublishConnectionStatusChanged publishes EventConnectionStatusChanged.
func (bus *EventBus) PublishConnectionStatusChanged(p ConnectionStatusChangedPayload) {
	bus.publish(EventConnectionStatusChanged, p)
}

// SubscribeConnectionStatusChanged subscribes to EventConnectionStatusChanged.
func (bus *EventBus) SubscribeConnectionStatusChanged(fn func(ConnectionStatusChangedPayload)) {
	bus.subscribe(EventConnectionStatusChanged, func(p any) { fn(p.(ConnectionStatusChangedPayload)) })
}

// PublishDocumentsInvalidated publishes EventDocumentsInvalidated.
func (bus *EventBus) PublishDocumentsInvalidated(p DocumentsInvalidatedPayload) {
	bus.publish(EventDocumentsInvalidated, p)
}

// SubscribeDocumentsInvalidated subscribes to EventDocumentsInvalidated.
func (bus *EventBus) SubscribeDocumentsInvalidated(fn func(DocumentsInvalidatedPayload)) {
	bus.subscribe(EventDocumentsInvalidated, func(p any) { fn(p.(DocumentsInvalidatedPayload)) })
}

// PublishDraftMutationDiscarded publishes EventDraftMutationDiscarded.
func (bus *EventBus) PublishDraftMutationDiscarded(p DraftMutationDiscardedPayload) {
	bus.publish(EventDraftMutationDiscarded, p)
}

// SubscribeDraftMutationDiscarded subscribes to EventDraftMutationDiscarded.
func (bus *EventBus) SubscribeDraftMutationDiscarded(fn func(DraftMutationDiscardedPayload)) {
	bus.subscribe(EventDraftMutationDiscarded, func(p any) { fn(p.(DraftMutationDiscardedPayload)) })
}

// PublishDraftUpdated publishes EventDraftUpdated.
func (bus *EventBus) PublishDraftUpdated(p DraftUpdatedPayload) {
	bus.publish(EventDraftUpdated, p)
}

// SubscribeDraftUpdated subscribes to EventDraftUpdated.
func (bus *EventBus) SubscribeDraftUpdated(fn func(DraftUpdatedPayload)) {
	bus.subscribe(EventDraftUpdated, func(p any) { fn(p.(DraftUpdatedPayload)) })
}

// PublishNotificationPublished publishes EventNotificationPublished.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.publish(EventNotificationPublished, p)
}

// SubscribeNotificationPublished subscribes to EventNotificationPublished.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(p any) { fn(p.(NotificationPublishedPayload)) })
}

// PublishServerError publishes EventServerError.
func (bus *EventBus) PublishServerError(p ServerErrorPayload) {
	bus.publish(EventServerError, p)
}

// SubscribeServerError subscribes to EventServerError.
func (bus *EventBus) SubscribeServerError(fn func(ServerErrorPayload)) {
	bus.subscribe(EventServerError, func(p any) { fn(p.(ServerErrorPayload)) })
}

// PublishToolFailed publishes EventToolFailed.
func (bus *EventBus) PublishToolFailed(p ToolFailedPayload) {
	bus.publish(EventToolFailed, p)
}

// SubscribeToolFailed subscribes to EventToolFailed.
func (bus *EventBus) SubscribeToolFailed(fn func(ToolFailedPayload)) {
	bus.subscribe(EventToolFailed, func(p any) { fn(p.(ToolFailedPayload)) })
}
