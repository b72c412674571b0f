// Package pool is the looser matching mode: users publish a mood and a short
// note, then ask to be paired with someone else who is waiting.
package pool

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/metrics"
	"github.com/campuscrush/realtime/internal/store"
)

// Config holds pool pairing and housekeeping parameters.
type Config struct {
	AnyMoodAfter    time.Duration // caller waited this long: accept any mood
	EntryTTL        time.Duration // entries not seen (Join or TryMatch) for this long are pruned
	CleanupInterval time.Duration
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		AnyMoodAfter:    60 * time.Second,
		EntryTTL:        30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// TryStatus is the outcome of TryMatch.
type TryStatus string

const (
	StatusNotInPool TryStatus = "not_in_pool"
	StatusWaiting   TryStatus = "waiting"
	StatusMatched   TryStatus = "matched"
)

// TryResult is returned by TryMatch. ChatID and PartnerID are set only when
// Status is StatusMatched.
type TryResult struct {
	Status    TryStatus `json:"status"`
	ChatID    string    `json:"chatId,omitempty"`
	PartnerID string    `json:"partnerId,omitempty"`
}

// Notifier creates notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) (*domain.Notification, error)
}

// Service pairs waiting users. It is safe for concurrent use.
type Service struct {
	store    store.Store
	notifier Notifier
	events   events.Publisher
	config   Config

	// mu serialises pairing within this process; ClaimPair keeps it
	// race-free across processes.
	mu  sync.Mutex
	now func() time.Time
}

// NewService creates a pool Service. A nil publisher disables events.
func NewService(s store.Store, notifier Notifier, pub events.Publisher, config Config) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: s, notifier: notifier, events: pub, config: config, now: time.Now}
}

type joinInput struct {
	UserID string `validate:"required"`
	Mood   string `validate:"required,max=32"`
	Note   string `validate:"max=80"`
}

// Join puts userID in the pool or replaces their mood and note.
func (s *Service) Join(ctx context.Context, userID, mood, note string) (*domain.PoolEntry, error) {
	in := joinInput{UserID: userID, Mood: strings.TrimSpace(mood), Note: strings.TrimSpace(note)}
	if err := apperr.Struct(in); err != nil {
		return nil, err
	}

	now := s.now()
	entry, err := s.store.JoinPool(ctx, domain.PoolEntry{
		UserID:   in.UserID,
		Mood:     in.Mood,
		Note:     in.Note,
		JoinedAt: now,
		LastSeen: now,
	})
	if err != nil {
		return nil, fmt.Errorf("pool: join %s: %w", userID, err)
	}
	s.refreshSize(ctx)
	return entry, nil
}

// Leave removes userID from the pool. Leaving when absent is not an error.
func (s *Service) Leave(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.Validation("userId is required")
	}
	if _, err := s.store.LeavePool(ctx, userID); err != nil {
		return fmt.Errorf("pool: leave %s: %w", userID, err)
	}
	s.refreshSize(ctx)
	return nil
}

// Entry returns userID's pool entry, or nil if they are not waiting.
func (s *Service) Entry(ctx context.Context, userID string) (*domain.PoolEntry, error) {
	e, err := s.store.GetPoolEntry(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("pool: get %s: %w", userID, err)
	}
	return e, nil
}

// TryMatch attempts to pair userID with another waiting user.
func (s *Service) TryMatch(ctx context.Context, userID string) (*TryResult, error) {
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	self, err := s.store.GetPoolEntry(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("pool: get %s: %w", userID, err)
	}
	if self == nil {
		return &TryResult{Status: StatusNotInPool}, nil
	}

	now := s.now()
	ok, err := s.store.TouchPool(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("pool: touch %s: %w", userID, err)
	}
	if !ok {
		return &TryResult{Status: StatusNotInPool}, nil
	}

	entries, err := s.store.ListPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: list: %w", err)
	}

	for _, partner := range s.candidates(*self, entries, now) {
		chat := &domain.Chat{
			ID:           uuid.NewString(),
			Participants: []string{self.UserID, partner.UserID},
			CreatedAt:    now,
		}
		ok, err := s.store.ClaimPair(ctx, self.UserID, partner.UserID, chat)
		if err != nil {
			return nil, fmt.Errorf("pool: claim %s+%s: %w", self.UserID, partner.UserID, err)
		}
		if !ok {
			// Partner was taken or left since ListPool; try the next one.
			continue
		}

		metrics.PoolWait.Observe(now.Sub(self.JoinedAt).Seconds())
		metrics.PoolWait.Observe(now.Sub(partner.JoinedAt).Seconds())
		s.refreshSize(ctx)
		s.announce(ctx, chat, self.UserID, partner.UserID)

		log.Printf("[pool] paired %s with %s chat=%s", self.UserID, partner.UserID, chat.ID)
		return &TryResult{Status: StatusMatched, ChatID: chat.ID, PartnerID: partner.UserID}, nil
	}

	// The caller's own entry may have been claimed by another process.
	if e, err := s.store.GetPoolEntry(ctx, userID); err == nil && e == nil {
		return &TryResult{Status: StatusNotInPool}, nil
	}
	return &TryResult{Status: StatusWaiting}, nil
}

// candidates returns the entries self may pair with, best first: same mood
// oldest first, then (once self has waited AnyMoodAfter) every other mood.
func (s *Service) candidates(self domain.PoolEntry, entries []domain.PoolEntry, now time.Time) []domain.PoolEntry {
	var same, other []domain.PoolEntry
	for _, e := range entries {
		if e.UserID == self.UserID {
			continue
		}
		if strings.EqualFold(e.Mood, self.Mood) {
			same = append(same, e)
		} else {
			other = append(other, e)
		}
	}
	if now.Sub(self.JoinedAt) >= s.config.AnyMoodAfter {
		return append(same, other...)
	}
	return same
}

func (s *Service) announce(ctx context.Context, chat *domain.Chat, callerID, partnerID string) {
	_, err := s.notifier.Notify(ctx, domain.Notification{
		RecipientID: partnerID,
		SenderID:    callerID,
		Type:        domain.NotifyPoolMatched,
		Message:     "Someone from the pool wants to chat!",
		ChatID:      chat.ID,
	})
	if err != nil {
		log.Printf("[pool] notify %s of chat %s: %v", partnerID, chat.ID, err)
	}

	events.Emit(s.events, events.Event{
		Subject: events.SubjectPoolPaired,
		ChatID:  chat.ID,
		Users:   []string{callerID, partnerID},
	})
}

// Prune removes entries not seen within EntryTTL and returns their user ids.
func (s *Service) Prune(ctx context.Context) ([]string, error) {
	removed, err := s.store.PrunePool(ctx, s.now().Add(-s.config.EntryTTL))
	if err != nil {
		return nil, fmt.Errorf("pool: prune: %w", err)
	}
	if len(removed) > 0 {
		s.refreshSize(ctx)
	}
	return removed, nil
}

// StartCleanup prunes stale entries every CleanupInterval until ctx is done.
func (s *Service) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[pool] cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := s.Prune(ctx)
			if err != nil {
				log.Printf("[pool] cleanup: %v", err)
				continue
			}
			if len(removed) > 0 {
				log.Printf("[pool] cleanup: removed %d stale entries", len(removed))
			}
		}
	}
}

func (s *Service) refreshSize(ctx context.Context) {
	entries, err := s.store.ListPool(ctx)
	if err != nil {
		return
	}
	metrics.PoolSize.Set(float64(len(entries)))
}
