package ws

import (
	"log"

	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/metrics"
	"github.com/campuscrush/realtime/internal/protocol"
	"github.com/campuscrush/realtime/internal/room"
)

// Hub fans events out to rooms of live connections. It owns the room
// registry; services push through it as plain function calls.
type Hub struct {
	rooms *room.Registry
}

// NewHub creates a Hub with an empty registry.
func NewHub() *Hub {
	r := room.NewRegistry()
	r.OnRoomCountChange(func(n int) {
		metrics.RoomsActive.Set(float64(n))
	})
	return &Hub{rooms: r}
}

// Rooms exposes the registry for inspection.
func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

// PushChatMessage sends msg to every subscriber of chatID and returns how
// many received it.
func (h *Hub) PushChatMessage(chatID string, msg any) int {
	frame, err := protocol.NewChatMessage(chatID, msg)
	if err != nil {
		log.Printf("ws: encode chat message chat=%s: %v", chatID, err)
		return 0
	}
	return h.rooms.Broadcast(room.ChatRoom(chatID), frame)
}

// PushNotification sends n to every connection of userID subscribed to
// notifications and returns how many received it.
func (h *Hub) PushNotification(userID string, n *domain.Notification) int {
	frame, err := protocol.NewNotification(n)
	if err != nil {
		log.Printf("ws: encode notification %s: %v", n.ID, err)
		return 0
	}
	return h.rooms.Broadcast(room.NotifyRoom(userID), frame)
}

func (h *Hub) join(roomKey string, c *Connection) bool {
	return h.rooms.Join(roomKey, c)
}

func (h *Hub) leave(roomKey string, c *Connection) bool {
	return h.rooms.Leave(roomKey, c)
}

// drop removes c from every room and returns the rooms it left.
func (h *Hub) drop(c *Connection) []string {
	return h.rooms.DropAll(c)
}
