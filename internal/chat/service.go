// Package chat sends and lists the messages of anonymous chats and fans
// each new message out to the chat's room.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/store"
)

// Pusher fans a message out to the live subscribers of a chat.
type Pusher interface {
	PushChatMessage(chatID string, msg any) int
}

// Notifier creates notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) (*domain.Notification, error)
}

// Service is safe for concurrent use.
type Service struct {
	store    store.Store
	messages archive.MessageLog
	notifier Notifier
	pusher   Pusher
	events   events.Publisher
	recent   *Recent
	now      func() time.Time
}

// NewService creates a chat Service. A nil publisher disables events; the
// pusher is set later with SetPusher.
func NewService(s store.Store, messages archive.MessageLog, notifier Notifier, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:    s,
		messages: messages,
		notifier: notifier,
		events:   pub,
		recent:   NewRecent(),
		now:      time.Now,
	}
}

// SetPusher sets the fan-out target.
func (s *Service) SetPusher(p Pusher) {
	s.pusher = p
}

// CanJoin reports whether userID may subscribe to chatID's room.
func (s *Service) CanJoin(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("chat: load %s: %w", chatID, err)
	}
	return chat != nil && chat.IsParticipant(userID), nil
}

// SendMessage stores a message from senderID, pushes it to the chat room and
// notifies the other participants.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID, text string) (*domain.Message, error) {
	if chatID == "" || senderID == "" {
		return nil, apperr.Validation("chatId and senderId are required")
	}
	text, err := ValidateMessage(text)
	if err != nil {
		return nil, err
	}

	chat, err := s.participantChat(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}

	sender := senderID
	msg, err := s.post(ctx, chatID, &sender, text)
	if err != nil {
		return nil, err
	}

	for _, recipient := range chat.Participants {
		if recipient == senderID {
			continue
		}
		_, err := s.notifier.Notify(ctx, domain.Notification{
			RecipientID: recipient,
			SenderID:    senderID,
			Type:        domain.NotifyNewMessage,
			Message:     "You have a new message",
			ChatID:      chatID,
			MatchID:     chat.MatchID,
		})
		if err != nil {
			log.Printf("[chat] notify %s of message %s: %v", recipient, msg.ID, err)
		}
	}

	events.Emit(s.events, events.Event{
		Subject: events.SubjectMessageSent,
		ChatID:  chatID,
		Users:   []string{senderID},
	})
	return msg, nil
}

// SystemMessage posts a message without a sender.
func (s *Service) SystemMessage(ctx context.Context, chatID, text string) (*domain.Message, error) {
	text, err := ValidateMessage(text)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, chatID, nil, text)
}

// ListMessages returns up to limit of the newest messages in chatID, oldest
// first. userID must be a participant.
func (s *Service) ListMessages(ctx context.Context, chatID, userID string, limit int) ([]*domain.Message, error) {
	if _, err := s.participantChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = archive.DefaultListLimit
	}
	if limit <= RecentSize {
		if msgs, ok := s.recent.Last(chatID, limit); ok {
			return msgs, nil
		}
	}

	msgs, err := s.messages.ListMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list %s: %w", chatID, err)
	}
	return msgs, nil
}

func (s *Service) post(ctx context.Context, chatID string, senderID *string, text string) (*domain.Message, error) {
	now := s.now()
	msg := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("chat: append to %s: %w", chatID, err)
	}
	s.recent.Add(msg)

	if s.pusher != nil {
		s.pusher.PushChatMessage(chatID, msg)
	}
	return msg, nil
}

func (s *Service) participantChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: load %s: %w", chatID, err)
	}
	if chat == nil {
		return nil, apperr.NotFound("chat " + chatID)
	}
	if !chat.IsParticipant(userID) {
		return nil, apperr.Validation("user %s is not a participant of chat %s", userID, chatID)
	}
	return chat, nil
}
