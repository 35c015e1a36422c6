// Package notify defines user-facing notices and their persistence.
package notify

import (
	"context"
	"time"
)

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a notice shown to the user and kept in history.
type Notification struct {
	ID      int64  `json:"id"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	// Source names the event that raised the notice.
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notifications to durable storage. List returns newest
// first; a limit of zero means no limit.
type Store interface {
	Save(ctx context.Context, n Notification) (int64, error)
	List(ctx context.Context, limit int) ([]Notification, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}
