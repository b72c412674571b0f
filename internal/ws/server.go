// Package ws is the connection hub: it upgrades HTTP requests to WebSocket
// connections, admits them with a bearer credential, routes their control
// frames and fans out chat messages and notifications through named rooms.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/campuscrush/realtime/internal/auth"
	"github.com/campuscrush/realtime/internal/metrics"
	"github.com/campuscrush/realtime/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on admitted connections
	SendBuffer     int           `validate:"min=1"` // per-connection outbound queue length
	WriteTimeout   time.Duration // deadline for a single frame write
	MaxFrameBytes  int64         // larger inbound frames close the connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  8192,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Authenticator resolves a connection credential to a user id.
type Authenticator interface {
	Authenticate(credential string) (string, error)
}

// Limiter throttles connection attempts per client address.
type Limiter interface {
	Allow(ctx context.Context, identifier string) bool
}

// Server accepts hub connections. Each admitted connection gets one reader
// and one writer goroutine.
type Server struct {
	config     ServerConfig
	authn      Authenticator
	limiter    Limiter
	hub        *Hub
	dispatcher *MessageDispatcher
	conns      *ConnectionManager
	upgrader   ws.HTTPUpgrader
	httpServer *http.Server

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time
}

// NewServer creates a Server that admits connections with authn and
// authorizes chat room joins with authz.
func NewServer(config ServerConfig, authn Authenticator, hub *Hub, authz ChatAuthorizer) *Server {
	return &Server{
		config:     config,
		authn:      authn,
		hub:        hub,
		dispatcher: NewMessageDispatcher(hub, authz),
		conns:      NewConnectionManager(),
		upgrader: ws.HTTPUpgrader{
			// Select any offered subprotocol except the one carrying the
			// credential, so it is never echoed back.
			Protocol: func(p string) bool {
				return !strings.HasPrefix(p, auth.SubprotocolPrefix)
			},
		},
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// SetLimiter enables per-address connection rate limiting.
func (s *Server) SetLimiter(l Limiter) {
	s.limiter = l
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Dispatcher returns the control frame dispatcher, for registering extra
// handlers.
func (s *Server) Dispatcher() *MessageDispatcher {
	return s.dispatcher
}

// Connections returns the live connection index.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Handler returns the HTTP routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start starts the heartbeat and blocks serving HTTP on ListenAddr.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.startHeartbeat(s.config.Heartbeat)

	log.Printf("ws: server listening on %s (max_conns=%d, send_buffer=%d)",
		s.config.ListenAddr, s.config.MaxConnections, s.config.SendBuffer)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.closed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	ip := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(r.Context(), ip) {
		metrics.AuthRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	credential := auth.CredentialFromRequest(r)

	conn, rw, _, err := s.upgrader.Upgrade(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed from %s: %v", ip, err)
		return
	}
	var reader io.Reader = conn
	if rw != nil {
		reader = rw.Reader
	}
	c := newConnection(uuid.NewString(), conn, reader, s.config.SendBuffer, s.config.WriteTimeout)

	userID, err := s.authn.Authenticate(credential)
	if err != nil {
		reason := auth.Reason(err)
		metrics.AuthRejected.WithLabelValues(reason).Inc()
		c.reject(auth.CloseCode(err), reason)
		log.Printf("ws: rejected connection from %s: %v", ip, err)
		return
	}
	c.admit(userID)

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	// Queued before the reader starts, so it is always the first frame.
	if ready, err := protocol.NewEvent(protocol.TypeConnectionReady, nil); err == nil {
		c.Send(ready)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()

	log.Printf("ws: new connection session=%s user=%s (total=%d)", c.ID, userID, s.conns.Count())
}

// readLoop reads frames until the client goes away. Whatever ends it, the
// connection leaves every room before the goroutine exits.
func (s *Server) readLoop(c *Connection) {
	defer s.removeConnection(c)

	for {
		header, reader, err := wsutil.NextReader(c.reader, ws.StateServerSide)
		if err != nil {
			return
		}
		c.touch()

		if header.Length > s.config.MaxFrameBytes {
			log.Printf("ws: frame too large session=%s bytes=%d", c.ID, header.Length)
			return
		}
		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			if err := c.write(ws.OpPong, payload); err != nil {
				return
			}
		case ws.OpText:
			if len(payload) > 0 {
				s.dispatcher.Dispatch(c, payload)
			}
		}
	}
}

func (s *Server) removeConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		c.Close()
		return
	}
	left := s.hub.drop(c)
	c.Close()
	metrics.ConnectionsTotal.Dec()

	log.Printf("ws: connection closed session=%s user=%s rooms=%d (total=%d)",
		c.ID, c.UserID, len(left), s.conns.Count())
}

// handleHealth reports liveness with connection and room counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       s.hub.Rooms().Len(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")
	s.closeOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		c.Close()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		log.Printf("ws: server stopped, all connections closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: shutdown: %w", ctx.Err())
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
