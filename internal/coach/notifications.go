package coach

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/logging"
	"github.com/colonyops/coach/internal/core/notify"
)

const recordTimeout = 5 * time.Second

// NotificationService keeps the history of user-facing notices.
type NotificationService struct {
	store notify.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewNotificationService creates a NotificationService backed by store.
func NewNotificationService(store notify.Store) *NotificationService {
	return &NotificationService{
		store: store,
		now:   time.Now,
		log:   logging.Component("notifications"),
	}
}

// Attach records every notification published on bus.
func (s *NotificationService) Attach(bus *eventbus.EventBus) {
	if bus == nil {
		return
	}
	bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, err := s.Record(ctx, p); err != nil {
			s.log.Warn().Err(err).Msg("record notification")
		}
	})
}

// Record stores one published notice.
func (s *NotificationService) Record(ctx context.Context, p eventbus.NotificationPublishedPayload) (notify.Notification, error) {
	n := notify.Notification{
		Level:     p.Level,
		Message:   p.Message,
		Source:    string(p.Source),
		CreatedAt: s.now(),
	}
	id, err := s.store.Save(ctx, n)
	if err != nil {
		return n, err
	}
	n.ID = id
	return n, nil
}

// List returns the newest notices first. A limit of zero returns all.
func (s *NotificationService) List(ctx context.Context, limit int) ([]notify.Notification, error) {
	return s.store.List(ctx, limit)
}

// Count returns the number of stored notices.
func (s *NotificationService) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// Clear deletes the history.
func (s *NotificationService) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}
