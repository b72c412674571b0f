package notify

import (
	"context"
	"testing"

	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/domain"
)

type fakePusher struct {
	online map[string]int
	pushed []domain.Notification
}

func (f *fakePusher) PushNotification(userID string, n *domain.Notification) int {
	f.pushed = append(f.pushed, *n)
	return f.online[userID]
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name          string
		online        int
		wantDelivered bool
	}{
		{"recipient online", 2, true},
		{"recipient offline", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := archive.NewMemory()
			pusher := &fakePusher{online: map[string]int{"bob": tt.online}}
			svc := NewService(store, pusher)

			n, err := svc.Notify(context.Background(), domain.Notification{
				RecipientID: "bob",
				SenderID:    "alice",
				Type:        domain.NotifyNewMatch,
				Message:     "It's a match!",
			})
			if err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if n.ID == "" || n.CreatedAt.IsZero() {
				t.Errorf("expected id and timestamp to be set: %+v", n)
			}
			if len(pusher.pushed) != 1 {
				t.Errorf("pushed %d times, want exactly 1", len(pusher.pushed))
			}
			if n.Delivered != tt.wantDelivered {
				t.Errorf("Delivered = %v, want %v", n.Delivered, tt.wantDelivered)
			}

			stored, _ := svc.List(context.Background(), "bob", 10)
			if len(stored) != 1 || stored[0].Delivered != tt.wantDelivered {
				t.Errorf("stored = %+v", stored)
			}
		})
	}
}

func TestNotify_NoPusher(t *testing.T) {
	svc := NewService(archive.NewMemory(), nil)
	n, err := svc.Notify(context.Background(), domain.Notification{RecipientID: "u", Type: domain.NotifyNewMessage})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Delivered {
		t.Error("nothing can be delivered without a pusher")
	}
}

func TestNotify_RequiresRecipient(t *testing.T) {
	svc := NewService(archive.NewMemory(), nil)
	if _, err := svc.Notify(context.Background(), domain.Notification{}); err == nil {
		t.Error("expected error for empty recipient")
	}
}
