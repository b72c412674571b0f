package ws

import (
	"context"
	"log"
	"time"

	"github.com/campuscrush/realtime/internal/protocol"
	"github.com/campuscrush/realtime/internal/room"
)

// ChatAuthorizer decides whether a user may subscribe to a chat room.
type ChatAuthorizer interface {
	CanJoin(ctx context.Context, chatID, userID string) (bool, error)
}

// MessageHandler handles one parsed control frame. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg any)

// authorizeTimeout bounds the store lookup behind a joinChat.
const authorizeTimeout = 3 * time.Second

// MessageDispatcher routes inbound control frames by type. Frames that do
// not parse, and types without a handler, are dropped.
type MessageDispatcher struct {
	hub      *Hub
	authz    ChatAuthorizer
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates a dispatcher with the room subscription
// handlers registered. A nil authz lets any user join any chat room.
func NewMessageDispatcher(hub *Hub, authz ChatAuthorizer) *MessageDispatcher {
	d := &MessageDispatcher{
		hub:      hub,
		authz:    authz,
		handlers: make(map[string]MessageHandler),
	}
	d.Register(protocol.TypeJoinChat, d.handleJoinChat)
	d.Register(protocol.TypeLeaveChat, d.handleLeaveChat)
	d.Register(protocol.TypeJoinNotifications, d.handleJoinNotifications)
	d.Register(protocol.TypeLeaveNotifications, d.handleLeaveNotifications)
	return d
}

// Register associates a handler with a message type, replacing any previous
// one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and runs the matching handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		return
	}

	if msgType == protocol.TypePing {
		d.send(conn, protocol.TypePong, nil)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		return
	}
	handler(conn, msg)
}

func (d *MessageDispatcher) handleJoinChat(conn *Connection, msg any) {
	m := msg.(protocol.JoinChatMsg)

	if d.authz != nil {
		ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
		ok, err := d.authz.CanJoin(ctx, m.ChatID, conn.UserID)
		cancel()
		if err != nil {
			log.Printf("ws: authorize join chat=%s user=%s: %v", m.ChatID, conn.UserID, err)
			d.sendError(conn, "unavailable", "could not join chat")
			return
		}
		if !ok {
			d.sendError(conn, "forbidden", "not a participant of this chat")
			return
		}
	}
	d.hub.join(room.ChatRoom(m.ChatID), conn)
}

func (d *MessageDispatcher) handleLeaveChat(conn *Connection, msg any) {
	m := msg.(protocol.LeaveChatMsg)
	d.hub.leave(room.ChatRoom(m.ChatID), conn)
}

func (d *MessageDispatcher) handleJoinNotifications(conn *Connection, _ any) {
	d.hub.join(room.NotifyRoom(conn.UserID), conn)
}

func (d *MessageDispatcher) handleLeaveNotifications(conn *Connection, _ any) {
	d.hub.leave(room.NotifyRoom(conn.UserID), conn)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	frame, err := protocol.NewError(code, message)
	if err != nil {
		log.Printf("ws: build error frame session=%s: %v", conn.ID, err)
		return
	}
	conn.Send(frame)
}

func (d *MessageDispatcher) send(conn *Connection, eventType string, data any) {
	frame, err := protocol.NewEvent(eventType, data)
	if err != nil {
		log.Printf("ws: build %s frame session=%s: %v", eventType, conn.ID, err)
		return
	}
	conn.Send(frame)
}
