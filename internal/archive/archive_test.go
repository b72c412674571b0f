package archive

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
)

// logs returns the backends under test. Postgres is included only when
// TEST_DATABASE_URL points at a reachable database.
func logs(t *testing.T) map[string]interface {
	MessageLog
	NotificationLog
} {
	t.Helper()
	out := map[string]interface {
		MessageLog
		NotificationLog
	}{"memory": NewMemory()}

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pg, err := Open(context.Background(), url)
		if err != nil {
			t.Logf("postgres not available: %v", err)
		} else {
			t.Cleanup(func() { pg.Close() })
			out["postgres"] = pg
		}
	}
	return out
}

func TestMessages(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := uuid.NewString()
			sender := "user-a"
			base := time.Now().UTC().Truncate(time.Millisecond)

			for i, text := range []string{"one", "two", "three"} {
				var s *string
				if i != 1 {
					s = &sender
				}
				at := base.Add(time.Duration(i) * time.Second)
				err := log.AppendMessage(ctx, &domain.Message{
					ID: uuid.NewString(), ChatID: chatID, SenderID: s, Text: text, CreatedAt: at, UpdatedAt: at,
				})
				if err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
			}

			msgs, err := log.ListMessages(ctx, chatID, 2)
			if err != nil {
				t.Fatalf("ListMessages: %v", err)
			}
			if len(msgs) != 2 || msgs[0].Text != "two" || msgs[1].Text != "three" {
				t.Fatalf("expected the two most recent messages oldest first, got %+v", msgs)
			}
			if msgs[0].SenderID != nil {
				t.Error("system message should have nil sender")
			}
			if msgs[1].SenderID == nil || *msgs[1].SenderID != sender {
				t.Error("user message should keep its sender")
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recipient := "user-" + uuid.NewString()[:8]
			first := &domain.Notification{
				ID: uuid.NewString(), RecipientID: recipient, Type: domain.NotifyNewMatch,
				Message: "You have a new match", CreatedAt: time.Now().UTC().Add(-time.Minute),
			}
			second := &domain.Notification{
				ID: uuid.NewString(), RecipientID: recipient, Type: domain.NotifyIdentityRevealed,
				Message: "Identities revealed", CreatedAt: time.Now().UTC(),
			}
			for _, n := range []*domain.Notification{first, second} {
				if err := log.CreateNotification(ctx, n); err != nil {
					t.Fatalf("CreateNotification: %v", err)
				}
			}

			if err := log.MarkDelivered(ctx, first.ID); err != nil {
				t.Fatalf("MarkDelivered: %v", err)
			}
			if err := log.MarkDelivered(ctx, uuid.NewString()); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("MarkDelivered unknown = %v, want ErrNotFound", err)
			}

			got, err := log.ListNotifications(ctx, recipient, 0)
			if err != nil {
				t.Fatalf("ListNotifications: %v", err)
			}
			if len(got) != 2 || got[0].ID != second.ID {
				t.Fatalf("expected newest first, got %+v", got)
			}
			if !got[1].Delivered || got[0].Delivered {
				t.Errorf("delivered flags wrong: %v %v", got[0].Delivered, got[1].Delivered)
			}
		})
	}
}
