package reveal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/store"
)

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

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingPoster struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingPoster) SystemMessage(_ context.Context, chatID, text string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return &domain.Message{ID: "sys", ChatID: chatID, Text: text}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

const chatID = "chat-1"

type fixture struct {
	m      *Machine
	store  *store.Memory
	notes  *recordingNotifier
	poster *recordingPoster
	pub    *recordingPublisher
}

// setup creates chat-1 between A (Jordan) and B (Sam).
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	users := []*domain.User{
		{ID: "A", Gender: domain.GenderFemale, DisplayName: "Secret Fox", RealName: "Jordan"},
		{ID: "B", Gender: domain.GenderMale, DisplayName: "Quiet Owl", RealName: "Sam"},
		{ID: "C", Gender: domain.GenderOther, DisplayName: "Night Cat", RealName: "Alex"},
	}
	for _, u := range users {
		if err := s.PutUser(ctx, u); err != nil {
			t.Fatalf("PutUser: %v", err)
		}
	}
	err := s.PutChat(ctx, &domain.Chat{
		ID:           chatID,
		Participants: []string{"A", "B"},
		MatchID:      "match-1",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("PutChat: %v", err)
	}

	f := &fixture{
		store:  s,
		notes:  &recordingNotifier{},
		poster: &recordingPoster{},
		pub:    &recordingPublisher{},
	}
	f.m = NewMachine(s, f.notes, f.poster, f.pub)
	return f
}

func TestSubmitGuess_RevealScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.m.SubmitGuess(ctx, chatID, "A", "Sam")
	if err != nil {
		t.Fatalf("A guess: %v", err)
	}
	if res.Status != StatusWaiting {
		t.Fatalf("A guess status = %s, want waiting", res.Status)
	}

	res, err = f.m.SubmitGuess(ctx, chatID, "B", "Alex")
	if err != nil {
		t.Fatalf("B guess: %v", err)
	}
	if res.Status != StatusNotRevealed || res.Partner != nil {
		t.Fatalf("B wrong guess = %+v, want not_revealed without partner", res)
	}
	if chat, _ := f.store.GetChat(ctx, chatID); chat.Revealed {
		t.Fatal("chat must stay hidden after a wrong guess")
	}

	res, err = f.m.SubmitGuess(ctx, chatID, "B", "  jordan ")
	if err != nil {
		t.Fatalf("B second guess: %v", err)
	}
	if res.Status != StatusRevealed || !res.Revealed {
		t.Fatalf("B second guess = %+v, want revealed", res)
	}
	if res.Partner == nil || res.Partner.RealName != "Jordan" {
		t.Errorf("partner = %+v, want Jordan", res.Partner)
	}

	chat, _ := f.store.GetChat(ctx, chatID)
	if !chat.Revealed || chat.RevealedAt == nil {
		t.Errorf("chat after reveal = %+v", chat)
	}

	if f.notes.count() != 2 {
		t.Fatalf("notifications = %d, want 2", f.notes.count())
	}
	got := map[string]bool{}
	for _, n := range f.notes.sent {
		if n.Type != domain.NotifyIdentityRevealed || n.ChatID != chatID {
			t.Errorf("unexpected notification %+v", n)
		}
		got[n.RecipientID] = true
	}
	if !got["A"] || !got["B"] {
		t.Errorf("recipients = %v, want A and B", got)
	}
	if len(f.poster.texts) != 1 {
		t.Errorf("system messages = %d, want 1", len(f.poster.texts))
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Subject != events.SubjectChatRevealed {
		t.Errorf("events = %+v", f.pub.events)
	}
}

func TestSubmitGuess_AfterReveal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.m.SubmitGuess(ctx, chatID, "A", "Sam")
	f.m.SubmitGuess(ctx, chatID, "B", "Jordan")

	for _, who := range []string{"A", "B"} {
		res, err := f.m.SubmitGuess(ctx, chatID, who, "anything")
		if err != nil {
			t.Fatalf("guess after reveal: %v", err)
		}
		if res.Status != StatusAlreadyRevealed || !res.Revealed {
			t.Errorf("guess after reveal = %+v, want already_revealed", res)
		}
	}
	if f.notes.count() != 2 {
		t.Errorf("notifications = %d, reveal must notify exactly once per side", f.notes.count())
	}
	guesses, _ := f.store.Guesses(ctx, chatID)
	if guesses["A"] != "Sam" {
		t.Errorf("guess changed after reveal: %q", guesses["A"])
	}
}

func TestSubmitGuess_RetryKeepsOneGuess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.m.SubmitGuess(ctx, chatID, "A", "Sam")
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if res.Status != StatusWaiting {
			t.Errorf("retry %d status = %s, want waiting", i, res.Status)
		}
	}
	guesses, _ := f.store.Guesses(ctx, chatID)
	if len(guesses) != 1 || guesses["A"] != "Sam" {
		t.Errorf("guesses = %v, want only A=Sam", guesses)
	}
}

func TestSubmitGuess_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		chatID  string
		guesser string
		guess   string
		want    error
	}{
		{"empty guess", chatID, "A", "   ", apperr.ErrValidation},
		{"empty guesser", chatID, "", "Sam", apperr.ErrValidation},
		{"outsider", chatID, "C", "Sam", apperr.ErrValidation},
		{"unknown chat", "nope", "A", "Sam", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.SubmitGuess(ctx, tt.chatID, tt.guesser, tt.guess)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// interleavedStore runs hook once, just before the first MarkRevealed.
type interleavedStore struct {
	*store.Memory
	once sync.Once
	hook func()
}

func (s *interleavedStore) MarkRevealed(ctx context.Context, chatID string, expect map[string]string, at time.Time) (bool, error) {
	s.once.Do(s.hook)
	return s.Memory.MarkRevealed(ctx, chatID, expect, at)
}

func TestSubmitGuess_GuessChangedBeforeFlip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := &interleavedStore{Memory: f.store, hook: func() {
		// A replaces a correct guess with a wrong one between B's compare
		// and B's flip.
		if _, err := f.store.RecordGuess(context.Background(), chatID, "A", "Alex"); err != nil {
			t.Errorf("RecordGuess: %v", err)
		}
	}}
	f.m = NewMachine(s, f.notes, f.poster, f.pub)

	if res, err := f.m.SubmitGuess(ctx, chatID, "A", "Sam"); err != nil || res.Status != StatusWaiting {
		t.Fatalf("A guess = %+v, %v", res, err)
	}
	res, err := f.m.SubmitGuess(ctx, chatID, "B", "Jordan")
	if err != nil {
		t.Fatalf("B guess: %v", err)
	}
	if res.Status != StatusNotRevealed || res.Partner != nil {
		t.Fatalf("B guess = %+v, want not_revealed", res)
	}
	if chat, _ := f.store.GetChat(ctx, chatID); chat.Revealed {
		t.Fatal("chat revealed on a stale compare")
	}
	if f.notes.count() != 0 || len(f.poster.texts) != 0 {
		t.Errorf("notifications = %d, system messages = %d; want none", f.notes.count(), len(f.poster.texts))
	}

	// A corrects the guess again; now both match and the chat reveals.
	res, err = f.m.SubmitGuess(ctx, chatID, "A", "Sam")
	if err != nil || res.Status != StatusRevealed {
		t.Fatalf("A retry = %+v, %v; want revealed", res, err)
	}
	if f.notes.count() != 2 {
		t.Errorf("notifications = %d, want 2", f.notes.count())
	}
}

func TestSubmitGuess_ConcurrentCorrectGuesses(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := setup(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make(chan *GuessResult, 2)
		for _, g := range [][2]string{{"A", "Sam"}, {"B", "Jordan"}} {
			wg.Add(1)
			go func(who, guess string) {
				defer wg.Done()
				res, err := f.m.SubmitGuess(ctx, chatID, who, guess)
				if err != nil {
					t.Errorf("guess: %v", err)
					return
				}
				results <- res
			}(g[0], g[1])
		}
		wg.Wait()
		close(results)

		revealed := 0
		for r := range results {
			if r.Status == StatusRevealed {
				revealed++
			}
		}
		if revealed == 0 {
			t.Fatalf("round %d: neither guess revealed the chat", round)
		}
		if f.notes.count() != 2 {
			t.Fatalf("round %d: notifications = %d, want 2", round, f.notes.count())
		}
	}
}

func TestStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, err := f.m.Status(ctx, chatID, "A")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.HasGuessed || st.PartnerGuessed || st.Revealed {
		t.Errorf("fresh status = %+v", st)
	}

	f.m.SubmitGuess(ctx, chatID, "B", "Jordan")
	st, _ = f.m.Status(ctx, chatID, "A")
	if st.HasGuessed || !st.PartnerGuessed || st.Partner != nil {
		t.Errorf("status after B guessed = %+v", st)
	}

	f.m.SubmitGuess(ctx, chatID, "A", "Sam")
	st, _ = f.m.Status(ctx, chatID, "A")
	if !st.Revealed || st.MyGuess != "Sam" || st.Partner == nil || st.Partner.RealName != "Sam" {
		t.Errorf("status after reveal = %+v", st)
	}

	if _, err := f.m.Status(ctx, chatID, "C"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("outsider status err = %v, want validation", err)
	}
}
