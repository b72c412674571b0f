// Package events publishes domain events (match created, chat revealed, pool
// paired) for consumers outside this process, such as analytics or a push
// gateway. Delivery to live connections does not depend on it.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects.
const (
	SubjectMatchCreated = "crush.match.created"
	SubjectChatRevealed = "crush.chat.revealed"
	SubjectPoolPaired   = "crush.pool.paired"
	SubjectMessageSent  = "crush.chat.message"
)

// Event is the JSON body published on every subject.
type Event struct {
	Subject string    `json:"subject"`
	ChatID  string    `json:"chatId,omitempty"`
	MatchID string    `json:"matchId,omitempty"`
	Users   []string  `json:"users"`
	At      time.Time `json:"at"`
}

// Publisher is what the state machines depend on.
type Publisher interface {
	Publish(e Event) error
}

// Nop discards events. Used when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "crushd",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSPublisher publishes events to NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials NATS with the given config.
func Connect(config Config) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

// Publish encodes e and publishes it on e.Subject.
func (p *NATSPublisher) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.Subject, err)
	}
	if err := p.conn.Publish(e.Subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", e.Subject, err)
	}
	return nil
}

// Subscribe registers handler for subject. Used by consumers and tests.
func (p *NATSPublisher) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Printf("[nats] drop malformed event on %s: %v", msg.Subject, err)
			return
		}
		handler(e)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}

// Emit publishes e, logging rather than returning a failure. Callers emit
// only after the transition is committed.
func Emit(p Publisher, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := p.Publish(e); err != nil {
		log.Printf("[events] publish %s failed: %v", e.Subject, err)
	}
}
