// Package room maps room keys to the set of live members subscribed to them.
// Chat rooms and per-user notification rooms share one registry; only the
// key prefix differs.
package room

import (
	"sort"
	"strings"
	"sync"
)

const (
	ChatPrefix   = "chat:"
	NotifyPrefix = "notify:"
)

// ChatRoom returns the room key for a chat.
func ChatRoom(chatID string) string { return ChatPrefix + chatID }

// NotifyRoom returns the room key for a user's notifications.
func NotifyRoom(userID string) string { return NotifyPrefix + userID }

// IsChatRoom reports whether key names a chat room.
func IsChatRoom(key string) bool { return strings.HasPrefix(key, ChatPrefix) }

// Member is anything that can receive a broadcast payload. Send must not
// block; it reports false when the payload was dropped.
type Member interface {
	Send(payload []byte) bool
}

// Registry is safe for concurrent use. Sends happen outside the lock.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[Member]struct{}
	joined  map[Member]map[string]struct{} // reverse index for DropAll
	onCount func(n int)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[Member]struct{}),
		joined: make(map[Member]map[string]struct{}),
	}
}

// OnRoomCountChange registers fn to be called with the number of rooms after
// every create or delete. Used for metrics.
func (r *Registry) OnRoomCountChange(fn func(n int)) {
	r.mu.Lock()
	r.onCount = fn
	r.mu.Unlock()
}

// Join adds m to room. Returns false if m was already a member.
func (r *Registry) Join(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[m]; exists {
		return false
	}
	members[m] = struct{}{}

	rooms, ok := r.joined[m]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[m] = rooms
	}
	rooms[room] = struct{}{}

	if len(members) == 1 && r.onCount != nil {
		r.onCount(len(r.rooms))
	}
	return true
}

// Leave removes m from room, deleting the room once empty. Returns false if
// m was not a member.
func (r *Registry) Leave(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, m)
}

func (r *Registry) leaveLocked(room string, m Member) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[m]; !exists {
		return false
	}
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, room)
		if r.onCount != nil {
			r.onCount(len(r.rooms))
		}
	}

	if rooms, ok := r.joined[m]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, m)
		}
	}
	return true
}

// DropAll removes m from every room it joined and returns the rooms it left.
func (r *Registry) DropAll(m Member) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[m]
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(room, m)
	}
	delete(r.joined, m)
	return left
}

// Broadcast delivers payload to the members of room at the time of the call
// and returns how many accepted it. A member that drops the payload does not
// affect delivery to the others.
func (r *Registry) Broadcast(room string, payload []byte) int {
	r.mu.RLock()
	members := make([]Member, 0, len(r.rooms[room]))
	for m := range r.rooms[room] {
		members = append(members, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if m.Send(payload) {
			delivered++
		}
	}
	return delivered
}

// Size returns the number of members in room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Has reports whether m is a member of room.
func (r *Registry) Has(room string, m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][m]
	return ok
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomsOf returns the sorted room keys m belongs to.
func (r *Registry) RoomsOf(m Member) []string {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.joined[m]))
	for room := range r.joined[m] {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// Rooms returns the sorted keys of all non-empty rooms.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}
