// Package domain holds the entities shared by the matching, reveal, pool and
// hub packages. Wire JSON uses camelCase field names.
package domain

import "time"

// Gender is the self-declared gender used by the swipe compatibility rule.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// User is the slice of a profile the core needs. RealName stays server-side
// until the chat it is asked about has been revealed.
type User struct {
	ID          string `json:"id"`
	Gender      Gender `json:"gender"`
	DisplayName string `json:"displayName"`
	RealName    string `json:"-"`
}

// MatchStatus is the lifecycle of a swipe edge between two users.
type MatchStatus string

const (
	MatchPending MatchStatus = "pending"
	MatchMatched MatchStatus = "matched"
)

// Match is the edge created by the first like. User1 is always the user who
// liked first; the pair itself is unique regardless of order.
type Match struct {
	ID        string      `json:"id"`
	User1ID   string      `json:"user1Id"`
	User2ID   string      `json:"user2Id"`
	User1Name string      `json:"user1Name"`
	User2Name string      `json:"user2Name"`
	Status    MatchStatus `json:"status"`
	ChatID    string      `json:"chatId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	MatchedAt *time.Time  `json:"matchedAt,omitempty"`
}

// Chat is an anonymous conversation created by a match or a pool pairing.
type Chat struct {
	ID           string     `json:"id"`
	Participants []string   `json:"participants"`
	Revealed     bool       `json:"revealed"`
	MatchID      string     `json:"matchId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	RevealedAt   *time.Time `json:"revealedAt,omitempty"`
}

// IsParticipant reports whether userID belongs to the chat.
func (c *Chat) IsParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant of a two-person chat, or "" if
// userID is not a participant.
func (c *Chat) Counterpart(userID string) string {
	if !c.IsParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Message is an append-only chat line. SenderID is nil for system messages.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  *string   `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NotificationType enumerates the notifications the core emits.
type NotificationType string

const (
	NotifyNewMatch         NotificationType = "new_match"
	NotifyIdentityRevealed NotificationType = "identity_revealed"
	NotifyNewMessage       NotificationType = "new_message"
	NotifyPoolMatched      NotificationType = "pool_matched"
)

// Notification is pushed to notify:<RecipientID> once per creation event.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	SenderID    string           `json:"senderId,omitempty"`
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`
	ChatID      string           `json:"chatId,omitempty"`
	MatchID     string           `json:"matchId,omitempty"`
	Delivered   bool             `json:"delivered"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// PoolEntry is a user's published intent while waiting in the match pool.
type PoolEntry struct {
	UserID   string    `json:"userId"`
	Mood     string    `json:"mood"`
	Note     string    `json:"note"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"` // last Join or TryMatch; stale entries are pruned by this
}
