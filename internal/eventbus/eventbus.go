// Package eventbus publishes session lifecycle events to NATS for external
// tooling (dashboards, analytics, other services). It is strictly
// observational: nothing in this module ever feeds back into session or
// transport state (spec §9 "Event bus must not drive correctness"). Adapted
// from the teacher's internal/messaging.NATSClient, trimmed to the
// publish-only subset this spec needs.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the relay. Subjects carry no session id; the id is
// the session_id field of each JSON event.
const (
	SubjectConnected    = "relay.session.connected"
	SubjectDisconnected = "relay.session.disconnected"
	SubjectMessage      = "relay.session.message"
	SubjectError        = "relay.session.error"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults, matching the teacher's
// DefaultNATSConfig values.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "relaysockd",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus wraps a NATS connection for publishing relay events.
type Bus struct {
	conn *nats.Conn
}

// New connects to NATS with the given config.
func New(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("eventbus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("eventbus: reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	log.Printf("eventbus: connected to %s", nc.ConnectedUrl())
	return &Bus{conn: nc}, nil
}

type connectedEvent struct {
	SessionID string `json:"session_id"`
	At        int64  `json:"at"`
}

type disconnectedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	At        int64  `json:"at"`
}

type messageEvent struct {
	SessionID string `json:"session_id"`
	MessageID uint64 `json:"message_id"`
	Bytes     int    `json:"bytes"`
	At        int64  `json:"at"`
}

type errorEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
	At        int64  `json:"at"`
}

// PublishConnected announces a new or resumed session attachment.
func (b *Bus) PublishConnected(sessionID string, at time.Time) {
	b.publish(SubjectConnected, connectedEvent{SessionID: sessionID, At: at.UnixMilli()})
}

// PublishDisconnected announces a session detaching or closing.
func (b *Bus) PublishDisconnected(sessionID, reason string, at time.Time) {
	b.publish(SubjectDisconnected, disconnectedEvent{SessionID: sessionID, Reason: reason, At: at.UnixMilli()})
}

// PublishMessage announces an inbound application message, without its
// payload — only size and identity, to avoid turning the bus into a data
// channel (spec §9 "observational, not transactional").
func (b *Bus) PublishMessage(sessionID string, messageID uint64, bytes int, at time.Time) {
	b.publish(SubjectMessage, messageEvent{SessionID: sessionID, MessageID: messageID, Bytes: bytes, At: at.UnixMilli()})
}

// PublishError announces a session-scoped or server-scoped error.
func (b *Bus) PublishError(sessionID, errMsg string, at time.Time) {
	b.publish(SubjectError, errorEvent{SessionID: sessionID, Error: errMsg, At: at.UnixMilli()})
}

func (b *Bus) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("eventbus: marshal failed for subject=%s: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("eventbus: publish failed subject=%s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		log.Printf("eventbus: drain: %v", err)
	}
}
