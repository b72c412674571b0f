package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/match"
	"github.com/campuscrush/realtime/internal/pool"
	"github.com/campuscrush/realtime/internal/protocol"
	"github.com/campuscrush/realtime/internal/reveal"
	"github.com/campuscrush/realtime/internal/room"
	"github.com/campuscrush/realtime/internal/store"
)

// inbox is a room member that decodes every frame it receives.
type inbox struct {
	mu     sync.Mutex
	frames []struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
}

func (b *inbox) Send(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	var f struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(p, &f); err != nil {
		return false
	}
	b.frames = append(b.frames, f)
	return true
}

// take returns and clears the notification types and chat message texts
// received so far.
func (b *inbox) take(t *testing.T) (notes []domain.NotificationType, texts []string) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		switch f.Type {
		case protocol.TypeNotificationNew:
			var n domain.Notification
			if err := json.Unmarshal(f.Data, &n); err != nil {
				t.Fatalf("decode notification: %v", err)
			}
			notes = append(notes, n.Type)
		case protocol.TypeChatMessage:
			var d struct {
				Message domain.Message `json:"message"`
			}
			if err := json.Unmarshal(f.Data, &d); err != nil {
				t.Fatalf("decode chat message: %v", err)
			}
			texts = append(texts, d.Message.Text)
		}
	}
	b.frames = nil
	return notes, texts
}

func TestCore_MatchChatRevealScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	arc := archive.NewMemory()
	c := New(Deps{Store: st, Messages: arc, Notices: arc, Pool: pool.DefaultConfig()})

	alice := &domain.User{ID: "A", Gender: domain.GenderFemale, DisplayName: "Secret Fox", RealName: "Jordan"}
	bob := &domain.User{ID: "B", Gender: domain.GenderMale, DisplayName: "Quiet Owl", RealName: "Sam"}
	for _, u := range []*domain.User{alice, bob} {
		if err := st.PutUser(ctx, u); err != nil {
			t.Fatalf("PutUser: %v", err)
		}
	}

	boxA, boxB := &inbox{}, &inbox{}
	c.Hub.Rooms().Join(room.NotifyRoom("A"), boxA)
	c.Hub.Rooms().Join(room.NotifyRoom("B"), boxB)

	// Mutual like.
	if res, err := c.Matches.Swipe(ctx, "A", "B", match.ActionLike); err != nil || res.Status != match.StatusLiked {
		t.Fatalf("first swipe = %+v, %v", res, err)
	}
	res, err := c.Matches.Swipe(ctx, "B", "A", match.ActionLike)
	if err != nil || !res.Matched || res.ChatID == "" {
		t.Fatalf("second swipe = %+v, %v", res, err)
	}
	chatID := res.ChatID
	for name, box := range map[string]*inbox{"A": boxA, "B": boxB} {
		notes, _ := box.take(t)
		if len(notes) != 1 || notes[0] != domain.NotifyNewMatch {
			t.Errorf("%s notifications = %v, want [new_match]", name, notes)
		}
	}

	// Chat.
	c.Hub.Rooms().Join(room.ChatRoom(chatID), boxA)
	c.Hub.Rooms().Join(room.ChatRoom(chatID), boxB)
	if _, err := c.Chat.SendMessage(ctx, chatID, "B", "hi stranger"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	notes, texts := boxA.take(t)
	if len(texts) != 1 || texts[0] != "hi stranger" {
		t.Errorf("A chat texts = %v", texts)
	}
	if len(notes) != 1 || notes[0] != domain.NotifyNewMessage {
		t.Errorf("A notifications = %v, want [new_message]", notes)
	}
	if notes, _ := boxB.take(t); len(notes) != 0 {
		t.Errorf("sender was notified of own message: %v", notes)
	}

	// Reveal.
	guess := func(who, name string) reveal.Status {
		t.Helper()
		r, err := c.Reveal.SubmitGuess(ctx, chatID, who, name)
		if err != nil {
			t.Fatalf("SubmitGuess(%s, %s): %v", who, name, err)
		}
		return r.Status
	}
	if s := guess("A", "Sam"); s != reveal.StatusWaiting {
		t.Errorf("A guess = %s", s)
	}
	if s := guess("B", "Alex"); s != reveal.StatusNotRevealed {
		t.Errorf("B wrong guess = %s", s)
	}
	if s := guess("B", "Jordan"); s != reveal.StatusRevealed {
		t.Errorf("B right guess = %s", s)
	}
	for name, box := range map[string]*inbox{"A": boxA, "B": boxB} {
		notes, texts := box.take(t)
		if len(notes) != 1 || notes[0] != domain.NotifyIdentityRevealed {
			t.Errorf("%s notifications = %v, want [identity_revealed]", name, notes)
		}
		if len(texts) != 1 {
			t.Errorf("%s chat texts = %v, want one system message", name, texts)
		}
	}
	if s := guess("A", "Sam"); s != reveal.StatusAlreadyRevealed {
		t.Errorf("guess after reveal = %s", s)
	}

	stored, err := c.Notify.List(ctx, "A", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored notifications for A = %d, want 3", len(stored))
	}
	for _, n := range stored {
		if !n.Delivered {
			t.Errorf("notification %s (%s) not marked delivered", n.ID, n.Type)
		}
	}
}

func TestCore_PoolPushesPartner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	arc := archive.NewMemory()
	c := New(Deps{Store: st, Messages: arc, Notices: arc, Pool: pool.DefaultConfig()})

	boxD := &inbox{}
	c.Hub.Rooms().Join(room.NotifyRoom("D"), boxD)

	for _, u := range []string{"D", "C"} {
		if _, err := c.Pool.Join(ctx, u, "coffee", "anyone up?"); err != nil {
			t.Fatalf("Join(%s): %v", u, err)
		}
	}

	res, err := c.Pool.TryMatch(ctx, "C")
	if err != nil || res.Status != pool.StatusMatched || res.PartnerID != "D" {
		t.Fatalf("TryMatch(C) = %+v, %v", res, err)
	}
	notes, _ := boxD.take(t)
	if len(notes) != 1 || notes[0] != domain.NotifyPoolMatched {
		t.Errorf("D notifications = %v, want [pool_matched]", notes)
	}

	res, err = c.Pool.TryMatch(ctx, "D")
	if err != nil || res.Status != pool.StatusNotInPool {
		t.Errorf("TryMatch(D) = %+v, %v; want not_in_pool", res, err)
	}

	ok, err := c.Chat.CanJoin(ctx, res.ChatID, "D")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if ok {
		t.Error("not_in_pool result should carry no chat")
	}
}
