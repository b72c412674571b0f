package chat

import (
	"sync"

	"github.com/campuscrush/realtime/internal/domain"
)

// RecentSize is the number of newest messages kept per chat.
const RecentSize = 20

// Recent keeps the newest RecentSize messages of each chat in a ring so
// short history reads skip the archive.
type Recent struct {
	mu    sync.RWMutex
	rings map[string]*ring
}

type ring struct {
	items []domain.Message
	pos   int
	count int
}

// NewRecent creates an empty cache.
func NewRecent() *Recent {
	return &Recent{rings: make(map[string]*ring)}
}

// Add appends msg to its chat's ring, overwriting the oldest when full.
func (r *Recent) Add(msg *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rb, ok := r.rings[msg.ChatID]
	if !ok {
		rb = &ring{items: make([]domain.Message, RecentSize)}
		r.rings[msg.ChatID] = rb
	}

	rb.items[rb.pos] = *msg
	rb.pos = (rb.pos + 1) % RecentSize
	if rb.count < RecentSize {
		rb.count++
	}
}

// Last returns up to n of the newest messages of chatID, oldest first, and
// whether the ring held at least n.
func (r *Recent) Last(chatID string, n int) ([]*domain.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rb, ok := r.rings[chatID]
	if !ok {
		return []*domain.Message{}, false
	}
	full := rb.count >= n
	if n > rb.count {
		n = rb.count
	}

	out := make([]*domain.Message, n)
	start := (rb.pos - n + RecentSize) % RecentSize
	for i := 0; i < n; i++ {
		msg := rb.items[(start+i)%RecentSize]
		out[i] = &msg
	}
	return out, full
}

// Remove drops the ring of chatID.
func (r *Recent) Remove(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rings, chatID)
}
