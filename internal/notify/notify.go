// Package notify creates notifications: it stores each one, pushes it once
// to the recipient's notification room and records whether a live
// connection received it.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/domain"
)

// Pusher delivers a notification to the live connections of a user and
// returns how many received it.
type Pusher interface {
	PushNotification(userID string, n *domain.Notification) int
}

// Service is safe for concurrent use.
type Service struct {
	store  archive.NotificationLog
	pusher Pusher
	now    func() time.Time
}

// NewService creates a Service. pusher may be nil, in which case
// notifications are stored but never pushed.
func NewService(store archive.NotificationLog, pusher Pusher) *Service {
	return &Service{store: store, pusher: pusher, now: time.Now}
}

// SetPusher sets the push target after construction, for wiring where the
// hub is built after the services that notify through it.
func (s *Service) SetPusher(p Pusher) {
	s.pusher = p
}

// Notify stores n and pushes it. ID and CreatedAt are filled in when empty.
func (s *Service) Notify(ctx context.Context, n domain.Notification) (*domain.Notification, error) {
	if n.RecipientID == "" {
		return nil, fmt.Errorf("notify: empty recipient")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.Delivered = false

	if err := s.store.CreateNotification(ctx, &n); err != nil {
		return nil, fmt.Errorf("notify: store %s: %w", n.Type, err)
	}

	if s.pusher == nil {
		return &n, nil
	}
	if s.pusher.PushNotification(n.RecipientID, &n) > 0 {
		n.Delivered = true
		if err := s.store.MarkDelivered(ctx, n.ID); err != nil {
			log.Printf("[notify] mark delivered id=%s: %v", n.ID, err)
		}
	}
	return &n, nil
}

// List returns the most recent notifications of a user.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}
