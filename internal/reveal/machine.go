// Package reveal runs the two-sided guessing game that ends an anonymous
// chat. Each participant guesses the other's real name; when both guesses
// are right the chat is revealed, once and for good.
package reveal

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/metrics"
	"github.com/campuscrush/realtime/internal/store"
)

// Status is the outcome of a guess.
type Status string

const (
	StatusWaiting         Status = "waiting"          // recorded; counterpart has not guessed
	StatusNotRevealed     Status = "not_revealed"     // both guessed, at least one wrong
	StatusRevealed        Status = "revealed"         // both right; identities exposed
	StatusAlreadyRevealed Status = "already_revealed" // chat was revealed before this guess
)

// Identity is what a participant learns about the other after reveal.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	RealName    string `json:"realName"`
}

// GuessResult is returned by SubmitGuess. Partner is set only once the chat
// is revealed.
type GuessResult struct {
	Status   Status    `json:"status"`
	ChatID   string    `json:"chatId"`
	Revealed bool      `json:"revealed"`
	Partner  *Identity `json:"partner,omitempty"`
}

// RevealStatus describes a chat's guessing state from one participant's
// side. The counterpart's guess text is never included.
type RevealStatus struct {
	ChatID         string    `json:"chatId"`
	Revealed       bool      `json:"revealed"`
	MyGuess        string    `json:"myGuess,omitempty"`
	HasGuessed     bool      `json:"hasGuessed"`
	PartnerGuessed bool      `json:"partnerGuessed"`
	Partner        *Identity `json:"partner,omitempty"`
}

// Notifier creates notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) (*domain.Notification, error)
}

// SystemPoster appends a sender-less message to a chat.
type SystemPoster interface {
	SystemMessage(ctx context.Context, chatID, text string) (*domain.Message, error)
}

// Machine is safe for concurrent use.
type Machine struct {
	store    store.Store
	notifier Notifier
	poster   SystemPoster
	events   events.Publisher
	now      func() time.Time
}

// NewMachine creates a Machine. poster and pub may be nil.
func NewMachine(s store.Store, notifier Notifier, poster SystemPoster, pub events.Publisher) *Machine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Machine{store: s, notifier: notifier, poster: poster, events: pub, now: time.Now}
}

type guessInput struct {
	ChatID    string `validate:"required"`
	GuesserID string `validate:"required"`
	Guess     string `validate:"required,max=100"`
}

// SubmitGuess records guesserID's guess for chatID and decides the reveal
// once both participants have guessed.
func (m *Machine) SubmitGuess(ctx context.Context, chatID, guesserID, guess string) (*GuessResult, error) {
	guess = strings.TrimSpace(guess)
	if err := apperr.Struct(guessInput{ChatID: chatID, GuesserID: guesserID, Guess: guess}); err != nil {
		return nil, err
	}

	chat, err := m.loadChat(ctx, chatID, guesserID)
	if err != nil {
		return nil, err
	}
	if chat.Revealed {
		return m.revealedResult(ctx, chat, guesserID, StatusAlreadyRevealed)
	}

	rec, err := m.store.RecordGuess(ctx, chatID, guesserID, guess)
	if err != nil {
		return nil, fmt.Errorf("reveal: record guess: %w", err)
	}
	if rec.Chat == nil {
		return nil, apperr.NotFound("chat " + chatID)
	}
	if rec.Chat.Revealed {
		return m.revealedResult(ctx, rec.Chat, guesserID, StatusAlreadyRevealed)
	}

	counterpartID := chat.Counterpart(guesserID)
	counterGuess, ok := rec.Guesses[counterpartID]
	if !ok {
		metrics.GuessesTotal.WithLabelValues(string(StatusWaiting)).Inc()
		return &GuessResult{Status: StatusWaiting, ChatID: chatID}, nil
	}

	guesser, counterpart, err := m.loadUsers(ctx, guesserID, counterpartID)
	if err != nil {
		return nil, err
	}
	if !sameName(rec.Guesses[guesserID], counterpart.RealName) || !sameName(counterGuess, guesser.RealName) {
		metrics.GuessesTotal.WithLabelValues(string(StatusNotRevealed)).Inc()
		return &GuessResult{Status: StatusNotRevealed, ChatID: chatID}, nil
	}

	compared := map[string]string{guesserID: rec.Guesses[guesserID], counterpartID: counterGuess}
	flipped, err := m.store.MarkRevealed(ctx, chatID, compared, m.now())
	if err != nil {
		return nil, fmt.Errorf("reveal: mark revealed: %w", err)
	}
	if flipped {
		m.announce(ctx, chat, guesser, counterpart)
	} else {
		// Either a concurrent call flipped it or a guess changed after the
		// compare.
		current, err := m.store.GetChat(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("reveal: reload chat: %w", err)
		}
		if current == nil || !current.Revealed {
			metrics.GuessesTotal.WithLabelValues(string(StatusNotRevealed)).Inc()
			return &GuessResult{Status: StatusNotRevealed, ChatID: chatID}, nil
		}
	}
	metrics.GuessesTotal.WithLabelValues(string(StatusRevealed)).Inc()
	return &GuessResult{
		Status:   StatusRevealed,
		ChatID:   chatID,
		Revealed: true,
		Partner:  identityOf(counterpart),
	}, nil
}

// Status reports userID's view of the guessing state of chatID.
func (m *Machine) Status(ctx context.Context, chatID, userID string) (*RevealStatus, error) {
	if chatID == "" || userID == "" {
		return nil, apperr.Validation("chatId and userId are required")
	}
	chat, err := m.loadChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	guesses, err := m.store.Guesses(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("reveal: load guesses: %w", err)
	}

	counterpartID := chat.Counterpart(userID)
	mine, hasGuessed := guesses[userID]
	_, partnerGuessed := guesses[counterpartID]
	st := &RevealStatus{
		ChatID:         chatID,
		Revealed:       chat.Revealed,
		MyGuess:        mine,
		HasGuessed:     hasGuessed,
		PartnerGuessed: partnerGuessed,
	}
	if chat.Revealed {
		partner, err := m.store.GetUser(ctx, counterpartID)
		if err != nil {
			return nil, fmt.Errorf("reveal: load partner: %w", err)
		}
		if partner != nil {
			st.Partner = identityOf(partner)
		}
	}
	return st, nil
}

func (m *Machine) loadChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("reveal: load chat: %w", err)
	}
	if chat == nil {
		return nil, apperr.NotFound("chat " + chatID)
	}
	if !chat.IsParticipant(userID) {
		return nil, apperr.Validation("user %s is not a participant of chat %s", userID, chatID)
	}
	if len(chat.Participants) != 2 {
		return nil, apperr.Validation("chat %s does not have exactly two participants", chatID)
	}
	return chat, nil
}

func (m *Machine) loadUsers(ctx context.Context, guesserID, counterpartID string) (*domain.User, *domain.User, error) {
	guesser, err := m.store.GetUser(ctx, guesserID)
	if err != nil {
		return nil, nil, fmt.Errorf("reveal: load guesser: %w", err)
	}
	counterpart, err := m.store.GetUser(ctx, counterpartID)
	if err != nil {
		return nil, nil, fmt.Errorf("reveal: load counterpart: %w", err)
	}
	if guesser == nil || counterpart == nil {
		return nil, nil, apperr.NotFound("chat participant")
	}
	return guesser, counterpart, nil
}

func (m *Machine) revealedResult(ctx context.Context, chat *domain.Chat, userID string, status Status) (*GuessResult, error) {
	res := &GuessResult{Status: status, ChatID: chat.ID, Revealed: true}
	partner, err := m.store.GetUser(ctx, chat.Counterpart(userID))
	if err != nil {
		return nil, fmt.Errorf("reveal: load partner: %w", err)
	}
	if partner != nil {
		res.Partner = identityOf(partner)
	}
	metrics.GuessesTotal.WithLabelValues(string(status)).Inc()
	return res, nil
}

// announce runs once per chat, after the call that flipped the flag.
func (m *Machine) announce(ctx context.Context, chat *domain.Chat, a, b *domain.User) {
	for _, pair := range [][2]*domain.User{{a, b}, {b, a}} {
		recipient, other := pair[0], pair[1]
		_, err := m.notifier.Notify(ctx, domain.Notification{
			RecipientID: recipient.ID,
			SenderID:    other.ID,
			Type:        domain.NotifyIdentityRevealed,
			Message:     fmt.Sprintf("You both guessed right! %s is %s.", other.DisplayName, other.RealName),
			ChatID:      chat.ID,
			MatchID:     chat.MatchID,
		})
		if err != nil {
			log.Printf("[reveal] notify %s of chat %s: %v", recipient.ID, chat.ID, err)
		}
	}

	if m.poster != nil {
		if _, err := m.poster.SystemMessage(ctx, chat.ID, "Identities revealed! You both guessed right."); err != nil {
			log.Printf("[reveal] system message chat=%s: %v", chat.ID, err)
		}
	}

	events.Emit(m.events, events.Event{
		Subject: events.SubjectChatRevealed,
		ChatID:  chat.ID,
		MatchID: chat.MatchID,
		Users:   append([]string(nil), chat.Participants...),
	})
}

func identityOf(u *domain.User) *Identity {
	return &Identity{UserID: u.ID, DisplayName: u.DisplayName, RealName: u.RealName}
}

func sameName(guess, realName string) bool {
	return normalizeName(guess) != "" && normalizeName(guess) == normalizeName(realName)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
