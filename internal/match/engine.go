// Package match turns swipes into matches. A like on a user who already
// liked the actor completes the pair, creates its anonymous chat and
// notifies both sides.
package match

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/keylock"
	"github.com/campuscrush/realtime/internal/metrics"
	"github.com/campuscrush/realtime/internal/store"
)

// Action is the direction of a swipe.
type Action string

const (
	ActionLike Action = "like"
	ActionPass Action = "pass"
)

// Status is the outcome of a swipe.
type Status string

const (
	StatusPassed        Status = "passed"         // not a like; nothing recorded
	StatusLiked         Status = "liked"          // pending match created
	StatusMatched       Status = "matched"        // pair completed, chat created
	StatusAlreadyExists Status = "already_exists" // repeat like; no-op
)

// SwipeResult is returned for every accepted swipe.
type SwipeResult struct {
	Status  Status        `json:"status"`
	Matched bool          `json:"matched"`
	ChatID  string        `json:"chatId,omitempty"`
	Match   *domain.Match `json:"match,omitempty"`
}

// Notifier creates notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) (*domain.Notification, error)
}

// Engine is safe for concurrent use.
type Engine struct {
	store    store.Store
	notifier Notifier
	events   events.Publisher
	pairs    keylock.Map
	now      func() time.Time
}

// NewEngine creates an Engine. A nil publisher disables events.
func NewEngine(s store.Store, notifier Notifier, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{store: s, notifier: notifier, events: pub, now: time.Now}
}

type swipeInput struct {
	ActorID  string `validate:"required"`
	TargetID string `validate:"required,nefield=ActorID"`
	Action   Action `validate:"required"`
}

// Swipe records actor's swipe on target.
func (e *Engine) Swipe(ctx context.Context, actorID, targetID string, action Action) (*SwipeResult, error) {
	if err := apperr.Struct(swipeInput{ActorID: actorID, TargetID: targetID, Action: action}); err != nil {
		return nil, err
	}
	if action != ActionLike {
		metrics.SwipesTotal.WithLabelValues(string(StatusPassed)).Inc()
		return &SwipeResult{Status: StatusPassed}, nil
	}

	actor, target, err := e.loadPair(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if !Compatible(actor.Gender, target.Gender) {
		return nil, apperr.Validation("users %s and %s are not compatible", actorID, targetID)
	}

	unlock := e.pairs.Lock(keylock.PairKey(actorID, targetID))
	now := e.now()
	res, err := e.store.ApplyLike(ctx, store.LikeRequest{
		Actor:   actor,
		Target:  target,
		MatchID: uuid.NewString(),
		ChatID:  uuid.NewString(),
		Now:     now,
	})
	unlock()
	if err != nil {
		return nil, fmt.Errorf("match: apply like %s->%s: %w", actorID, targetID, err)
	}

	out := &SwipeResult{Match: res.Match}
	switch res.Outcome {
	case store.LikePending:
		out.Status = StatusLiked
	case store.LikeExists:
		out.Status = StatusAlreadyExists
		out.Matched = res.Match.Status == domain.MatchMatched
		out.ChatID = res.Match.ChatID
	case store.LikeMatched:
		out.Status = StatusMatched
		out.Matched = true
		out.ChatID = res.Chat.ID
		e.announce(ctx, res.Match, actor, target)
	}
	metrics.SwipesTotal.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

func (e *Engine) loadPair(ctx context.Context, actorID, targetID string) (*domain.User, *domain.User, error) {
	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("match: load actor: %w", err)
	}
	if actor == nil {
		return nil, nil, apperr.NotFound("user " + actorID)
	}
	target, err := e.store.GetUser(ctx, targetID)
	if err != nil {
		return nil, nil, fmt.Errorf("match: load target: %w", err)
	}
	if target == nil {
		return nil, nil, apperr.NotFound("user " + targetID)
	}

	for _, u := range []*domain.User{actor, target} {
		if u.Gender == "" {
			return nil, nil, apperr.Validation("user %s has no gender", u.ID)
		}
		if !knownGender(u.Gender) {
			return nil, nil, apperr.Validation("user %s has unknown gender %q", u.ID, u.Gender)
		}
	}
	return actor, target, nil
}

// announce notifies both sides of a completed match. The match is already
// committed, so failures are logged and not returned.
func (e *Engine) announce(ctx context.Context, m *domain.Match, actor, target *domain.User) {
	for _, pair := range [][2]*domain.User{{actor, target}, {target, actor}} {
		recipient, other := pair[0], pair[1]
		_, err := e.notifier.Notify(ctx, domain.Notification{
			RecipientID: recipient.ID,
			SenderID:    other.ID,
			Type:        domain.NotifyNewMatch,
			Message:     fmt.Sprintf("You matched with %s!", other.DisplayName),
			ChatID:      m.ChatID,
			MatchID:     m.ID,
		})
		if err != nil {
			log.Printf("[match] notify %s of match %s: %v", recipient.ID, m.ID, err)
		}
	}

	events.Emit(e.events, events.Event{
		Subject: events.SubjectMatchCreated,
		ChatID:  m.ChatID,
		MatchID: m.ID,
		Users:   []string{m.User1ID, m.User2ID},
	})
}

// ListMatches returns userID's completed matches, newest first.
func (e *Engine) ListMatches(ctx context.Context, userID string) ([]*domain.Match, error) {
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	matches, err := e.store.ListMatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("match: list %s: %w", userID, err)
	}
	return matches, nil
}
