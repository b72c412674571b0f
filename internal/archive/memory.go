package archive

import (
	"context"
	"sync"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
)

// Memory implements MessageLog and NotificationLog in process.
type Memory struct {
	mu            sync.Mutex
	messages      map[string][]domain.Message // chat id -> append order
	notifications []domain.Notification
}

var (
	_ MessageLog      = (*Memory)(nil)
	_ NotificationLog = (*Memory)(nil)
)

// NewMemory creates an empty Memory archive.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]domain.Message)}
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], *msg)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListMessages(_ context.Context, chatID string, limit int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[chatID]
	limit = normalizeLimit(limit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*domain.Message, 0, len(all))
	for i := range all {
		msg := all[i]
		out = append(out, &msg)
	}
	return out, nil
}

func (m *Memory) CreateNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	m.notifications = append(m.notifications, *n)
	m.mu.Unlock()
	return nil
}

func (m *Memory) MarkDelivered(_ context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == notificationID {
			m.notifications[i].Delivered = true
			return nil
		}
	}
	return apperr.NotFound("notification " + notificationID)
}

func (m *Memory) ListNotifications(_ context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = normalizeLimit(limit)
	var out []*domain.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].RecipientID == recipientID {
			n := m.notifications[i]
			out = append(out, &n)
		}
	}
	return out, nil
}
