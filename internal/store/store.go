// Package store defines the state the match, reveal and pool machines read
// and mutate. Every check-then-act transition is a single Store call so that
// backends can make it atomic: a mutex for Memory, a Lua script for Redis.
//
// Lookups return (nil, nil) when the record does not exist.
package store

import (
	"context"
	"time"

	"github.com/campuscrush/realtime/internal/domain"
)

// LikeOutcome is the result of applying a like to a pair.
type LikeOutcome int

const (
	// LikePending means a new pending match was recorded from the actor.
	LikePending LikeOutcome = iota
	// LikeExists means the pair already had a match the like cannot advance.
	LikeExists
	// LikeMatched means the like completed a pending match and created a chat.
	LikeMatched
)

func (o LikeOutcome) String() string {
	switch o {
	case LikePending:
		return "pending"
	case LikeExists:
		return "exists"
	case LikeMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// LikeRequest carries everything ApplyLike may need to write. MatchID and
// ChatID are only used when a record is created.
type LikeRequest struct {
	Actor   *domain.User
	Target  *domain.User
	MatchID string
	ChatID  string
	Now     time.Time
}

// LikeResult is returned by ApplyLike. Chat is set only for LikeMatched.
type LikeResult struct {
	Outcome LikeOutcome
	Match   *domain.Match
	Chat    *domain.Chat
}

// GuessResult is returned by RecordGuess. When Chat is nil the chat does not
// exist. When Chat.Revealed is true the guess was not recorded.
type GuessResult struct {
	Chat    *domain.Chat
	Guesses map[string]string // user id -> guess
}

// Store is implemented by Memory and redisstore.Store.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	PutUser(ctx context.Context, u *domain.User) error

	// ApplyLike is the whole like transition for one unordered pair.
	ApplyLike(ctx context.Context, req LikeRequest) (LikeResult, error)
	GetMatch(ctx context.Context, userA, userB string) (*domain.Match, error)
	// ListMatches returns the matched edges userID is part of, newest first.
	ListMatches(ctx context.Context, userID string) ([]*domain.Match, error)

	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	PutChat(ctx context.Context, c *domain.Chat) error

	// RecordGuess upserts userID's guess unless the chat is revealed.
	RecordGuess(ctx context.Context, chatID, userID, guess string) (GuessResult, error)
	Guesses(ctx context.Context, chatID string) (map[string]string, error)
	// MarkRevealed flips Chat.Revealed, provided every guess in expect is
	// still the stored guess for its user, and reports whether this call
	// did it.
	MarkRevealed(ctx context.Context, chatID string, expect map[string]string, at time.Time) (bool, error)

	// JoinPool upserts the entry. A user already waiting keeps their JoinedAt;
	// LastSeen is always refreshed and defaults to JoinedAt when zero.
	JoinPool(ctx context.Context, e domain.PoolEntry) (*domain.PoolEntry, error)
	// TouchPool sets LastSeen on a waiting entry and reports whether it
	// exists.
	TouchPool(ctx context.Context, userID string, at time.Time) (bool, error)
	LeavePool(ctx context.Context, userID string) (bool, error)
	GetPoolEntry(ctx context.Context, userID string) (*domain.PoolEntry, error)
	// ListPool returns waiting entries ordered by JoinedAt, then UserID.
	ListPool(ctx context.Context) ([]domain.PoolEntry, error)
	// ClaimPair removes both entries and stores chat, or does nothing and
	// returns false if either entry is gone.
	ClaimPair(ctx context.Context, userA, userB string, chat *domain.Chat) (bool, error)
	// PrunePool removes entries last seen before cutoff.
	PrunePool(ctx context.Context, cutoff time.Time) ([]string, error)
}
