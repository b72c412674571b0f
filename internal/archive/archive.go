// Package archive persists the append-only records produced by the core:
// chat messages and notifications. Postgres is the durable backend; Memory
// serves tests and single-node runs without a database.
package archive

import (
	"context"

	"github.com/campuscrush/realtime/internal/domain"
)

// MessageLog stores chat messages.
type MessageLog interface {
	AppendMessage(ctx context.Context, m *domain.Message) error
	// ListMessages returns up to limit messages of a chat, oldest first.
	ListMessages(ctx context.Context, chatID string, limit int) ([]*domain.Message, error)
}

// NotificationLog stores notifications and their delivery state.
type NotificationLog interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	MarkDelivered(ctx context.Context, notificationID string) error
	// ListNotifications returns up to limit notifications, newest first.
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error)
}

// DefaultListLimit applies when a caller passes a non-positive limit.
const DefaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
