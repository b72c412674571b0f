package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/store"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushed map[string][]any
}

func (r *recordingPusher) PushChatMessage(chatID string, msg any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushed == nil {
		r.pushed = make(map[string][]any)
	}
	r.pushed[chatID] = append(r.pushed[chatID], msg)
	return 1
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return &n, nil
}

func setupChat(t *testing.T) (*Service, *archive.Memory, *recordingPusher, *recordingNotifier) {
	t.Helper()
	s := store.NewMemory()
	err := s.PutChat(context.Background(), &domain.Chat{
		ID:           "c1",
		Participants: []string{"A", "B"},
		MatchID:      "m1",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("PutChat: %v", err)
	}
	arc := archive.NewMemory()
	n := &recordingNotifier{}
	p := &recordingPusher{}
	svc := NewService(s, arc, n, nil)
	svc.SetPusher(p)
	return svc, arc, p, n
}

func TestSendMessage(t *testing.T) {
	svc, arc, p, n := setupChat(t)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, "c1", "A", "  hey there ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Text != "hey there" || msg.SenderID == nil || *msg.SenderID != "A" {
		t.Errorf("message = %+v", msg)
	}

	stored, _ := arc.ListMessages(ctx, "c1", 10)
	if len(stored) != 1 || stored[0].ID != msg.ID {
		t.Errorf("archive = %+v", stored)
	}
	if len(p.pushed["c1"]) != 1 {
		t.Errorf("pushes to c1 = %d, want 1", len(p.pushed["c1"]))
	}
	if len(n.sent) != 1 || n.sent[0].RecipientID != "B" || n.sent[0].Type != domain.NotifyNewMessage {
		t.Errorf("notifications = %+v, want one new_message to B", n.sent)
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	svc, _, p, _ := setupChat(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		chatID string
		sender string
		text   string
		want   error
	}{
		{"outsider", "c1", "C", "hi", apperr.ErrValidation},
		{"unknown chat", "nope", "A", "hi", apperr.ErrNotFound},
		{"empty text", "c1", "A", " ", apperr.ErrValidation},
		{"missing sender", "c1", "", "hi", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SendMessage(ctx, tt.chatID, tt.sender, tt.text); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(p.pushed) != 0 {
		t.Errorf("rejected messages were pushed: %v", p.pushed)
	}
}

func TestSystemMessage(t *testing.T) {
	svc, _, p, n := setupChat(t)
	ctx := context.Background()

	msg, err := svc.SystemMessage(ctx, "c1", "Identities revealed!")
	if err != nil {
		t.Fatalf("SystemMessage: %v", err)
	}
	if msg.SenderID != nil {
		t.Errorf("system message has sender %q", *msg.SenderID)
	}
	if len(p.pushed["c1"]) != 1 {
		t.Errorf("system message not pushed")
	}
	if len(n.sent) != 0 {
		t.Errorf("system messages must not notify, got %d", len(n.sent))
	}
}

func TestListMessages(t *testing.T) {
	svc, _, _, _ := setupChat(t)
	ctx := context.Background()

	for i := 0; i < RecentSize+5; i++ {
		if _, err := svc.SendMessage(ctx, "c1", "A", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	short, err := svc.ListMessages(ctx, "c1", "B", 3)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(short) != 3 || short[2].Text != fmt.Sprintf("m%d", RecentSize+4) {
		t.Errorf("short list = %d msgs, last %q", len(short), short[len(short)-1].Text)
	}

	long, err := svc.ListMessages(ctx, "c1", "B", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(long) != RecentSize+5 || long[0].Text != "m0" {
		t.Errorf("long list = %d msgs, first %q", len(long), long[0].Text)
	}

	if _, err := svc.ListMessages(ctx, "c1", "C", 3); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("outsider list err = %v", err)
	}
}

func TestCanJoin(t *testing.T) {
	svc, _, _, _ := setupChat(t)
	ctx := context.Background()

	tests := []struct {
		chatID, userID string
		want           bool
	}{
		{"c1", "A", true},
		{"c1", "B", true},
		{"c1", "C", false},
		{"nope", "A", false},
	}
	for _, tt := range tests {
		got, err := svc.CanJoin(ctx, tt.chatID, tt.userID)
		if err != nil {
			t.Fatalf("CanJoin: %v", err)
		}
		if got != tt.want {
			t.Errorf("CanJoin(%s, %s) = %v, want %v", tt.chatID, tt.userID, got, tt.want)
		}
	}
}
