package ws

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/campuscrush/realtime/internal/metrics"
)

// State is the lifecycle stage of a Connection. Room membership is tracked
// by the registry, not here.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one admitted client. Outbound frames go through a bounded
// queue drained by a single writer goroutine; a full queue drops the frame.
type Connection struct {
	ID        string
	UserID    string
	Conn      net.Conn
	CreatedAt time.Time

	reader       io.Reader // buffered reader left over from the handshake
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
	writeTimeout time.Duration
	state        atomic.Int32
	lastActive   atomic.Int64 // unix nanos of the last frame read
}

func newConnection(id string, conn net.Conn, reader io.Reader, sendBuffer int, writeTimeout time.Duration) *Connection {
	if reader == nil {
		reader = conn
	}
	c := &Connection{
		ID:           id,
		Conn:         conn,
		CreatedAt:    time.Now(),
		reader:       reader,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.touch()
	return c
}

// admit binds the connection to userID. It must run before the connection
// is shared with other goroutines.
func (c *Connection) admit(userID string) {
	c.UserID = userID
	c.state.Store(int32(StateAuthenticated))
}

// reject sends a close frame with code and closes the connection.
func (c *Connection) reject(code int, reason string) {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	c.writeMu.Lock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_ = ws.WriteFrame(c.Conn, frame)
	c.writeMu.Unlock()
	c.Close()
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Send queues payload for delivery without blocking. It returns false when
// the connection is closed or its queue is full.
func (c *Connection) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		metrics.FramesTotal.WithLabelValues("queued").Inc()
		return true
	default:
		metrics.FramesTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

// writeLoop drains the send queue until the connection closes.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(ws.OpText, payload); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, op, payload)
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	return c.write(ws.OpPing, nil)
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when a frame was last read from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe index of live connections by id.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers conn.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection with id and reports whether it was
// present. Only the first of several racing callers gets true.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	_, ok := cm.byID[id]
	delete(cm.byID, id)
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of live connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	return conns
}
