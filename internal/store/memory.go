package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/keylock"
)

// Memory is an in-process Store. A single mutex makes every method atomic.
// Returned records are copies.
type Memory struct {
	mu      sync.Mutex
	users   map[string]domain.User
	matches map[string]domain.Match // keylock.PairKey -> match
	chats   map[string]domain.Chat
	guesses map[string]map[string]string // chat id -> user id -> guess
	pool    map[string]domain.PoolEntry
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]domain.User),
		matches: make(map[string]domain.Match),
		chats:   make(map[string]domain.Chat),
		guesses: make(map[string]map[string]string),
		pool:    make(map[string]domain.PoolEntry),
	}
}

var _ Store = (*Memory)(nil)

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (m *Memory) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) PutUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	m.users[u.ID] = *u
	m.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Matches
// ---------------------------------------------------------------------------

func (m *Memory) ApplyLike(_ context.Context, req LikeRequest) (LikeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keylock.PairKey(req.Actor.ID, req.Target.ID)
	existing, ok := m.matches[key]
	if !ok {
		match := domain.Match{
			ID:        req.MatchID,
			User1ID:   req.Actor.ID,
			User2ID:   req.Target.ID,
			User1Name: req.Actor.DisplayName,
			User2Name: req.Target.DisplayName,
			Status:    domain.MatchPending,
			CreatedAt: req.Now,
		}
		m.matches[key] = match
		return LikeResult{Outcome: LikePending, Match: &match}, nil
	}

	// Only the liked side can complete a pending match.
	if existing.Status != domain.MatchPending || existing.User1ID == req.Actor.ID {
		return LikeResult{Outcome: LikeExists, Match: &existing}, nil
	}

	now := req.Now
	chat := domain.Chat{
		ID:           req.ChatID,
		Participants: []string{existing.User1ID, existing.User2ID},
		MatchID:      existing.ID,
		CreatedAt:    now,
	}
	existing.Status = domain.MatchMatched
	existing.ChatID = chat.ID
	existing.MatchedAt = &now
	m.matches[key] = existing
	m.chats[chat.ID] = chat

	return LikeResult{Outcome: LikeMatched, Match: &existing, Chat: cloneChat(chat)}, nil
}

func (m *Memory) GetMatch(_ context.Context, userA, userB string) (*domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[keylock.PairKey(userA, userB)]
	if !ok {
		return nil, nil
	}
	return &match, nil
}

func (m *Memory) ListMatches(_ context.Context, userID string) ([]*domain.Match, error) {
	m.mu.Lock()
	var out []*domain.Match
	for _, match := range m.matches {
		if match.Status != domain.MatchMatched {
			continue
		}
		if match.User1ID == userID || match.User2ID == userID {
			match := match
			out = append(out, &match)
		}
	}
	m.mu.Unlock()

	sortMatches(out)
	return out, nil
}

// sortMatches orders by MatchedAt descending, then ID for stability.
func sortMatches(ms []*domain.Match) {
	sort.Slice(ms, func(i, j int) bool {
		ti, tj := matchedAt(ms[i]), matchedAt(ms[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ms[i].ID < ms[j].ID
	})
}

func matchedAt(m *domain.Match) time.Time {
	if m.MatchedAt != nil {
		return *m.MatchedAt
	}
	return m.CreatedAt
}

// ---------------------------------------------------------------------------
// Chats and guesses
// ---------------------------------------------------------------------------

func (m *Memory) GetChat(_ context.Context, chatID string) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	return cloneChat(c), nil
}

func (m *Memory) PutChat(_ context.Context, c *domain.Chat) error {
	m.mu.Lock()
	m.chats[c.ID] = *cloneChat(*c)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecordGuess(_ context.Context, chatID, userID, guess string) (GuessResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return GuessResult{}, nil
	}
	if !c.Revealed {
		g, ok := m.guesses[chatID]
		if !ok {
			g = make(map[string]string)
			m.guesses[chatID] = g
		}
		g[userID] = guess
	}
	return GuessResult{Chat: cloneChat(c), Guesses: cloneGuesses(m.guesses[chatID])}, nil
}

func (m *Memory) Guesses(_ context.Context, chatID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneGuesses(m.guesses[chatID]), nil
}

func (m *Memory) MarkRevealed(_ context.Context, chatID string, expect map[string]string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok || c.Revealed {
		return false, nil
	}
	stored := m.guesses[chatID]
	for userID, guess := range expect {
		if g, ok := stored[userID]; !ok || g != guess {
			return false, nil
		}
	}
	c.Revealed = true
	c.RevealedAt = &at
	m.chats[chatID] = c
	return true, nil
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func (m *Memory) JoinPool(_ context.Context, e domain.PoolEntry) (*domain.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.LastSeen.IsZero() {
		e.LastSeen = e.JoinedAt
	}
	if prev, ok := m.pool[e.UserID]; ok {
		e.JoinedAt = prev.JoinedAt
	}
	m.pool[e.UserID] = e
	return &e, nil
}

func (m *Memory) TouchPool(_ context.Context, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pool[userID]
	if !ok {
		return false, nil
	}
	if at.After(e.LastSeen) {
		e.LastSeen = at
		m.pool[userID] = e
	}
	return true, nil
}

func (m *Memory) LeavePool(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pool[userID]
	delete(m.pool, userID)
	return ok, nil
}

func (m *Memory) GetPoolEntry(_ context.Context, userID string) (*domain.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pool[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListPool(_ context.Context) ([]domain.PoolEntry, error) {
	m.mu.Lock()
	out := make([]domain.PoolEntry, 0, len(m.pool))
	for _, e := range m.pool {
		out = append(out, e)
	}
	m.mu.Unlock()

	SortPool(out)
	return out, nil
}

func (m *Memory) ClaimPair(_ context.Context, userA, userB string, chat *domain.Chat) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, okA := m.pool[userA]
	_, okB := m.pool[userB]
	if !okA || !okB {
		return false, nil
	}
	delete(m.pool, userA)
	delete(m.pool, userB)
	m.chats[chat.ID] = *cloneChat(*chat)
	return true, nil
}

func (m *Memory) PrunePool(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, e := range m.pool {
		if e.LastSeen.Before(cutoff) {
			delete(m.pool, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// SortPool orders entries oldest first, breaking ties by user id.
func SortPool(entries []domain.PoolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
}

func cloneChat(c domain.Chat) *domain.Chat {
	c.Participants = append([]string(nil), c.Participants...)
	return &c
}

func cloneGuesses(g map[string]string) map[string]string {
	out := make(map[string]string, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}
