// Package session implements the session lifecycle described in spec §4.4:
// Connect/Reconnect/Detach/Disconnect transitions, the suspension replay
// buffer, broadcast, and message-id assignment. It owns no transport or
// I/O directly — internal/transport drives this package by supplying a
// Transport handle and forwarding decoded frames, the "arena + id lookup"
// pattern spec §9 recommends for the session/transport/pool cycle.
package session

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/relaywire/sockets/internal/quality"
)

// Transport is the narrow capability a session needs from its live
// connection: send a payload, or close it with a reason. internal/transport
// implements this over a gobwas/ws connection.
type Transport interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// State is a session's position in the lifecycle described in spec §4.4.
type State int

const (
	StateAttached State = iota
	StateSuspended
)

func (s State) String() string {
	if s == StateAttached {
		return "attached"
	}
	return "suspended"
}

// Disconnect reasons surfaced via EventSink.OnDisconnection (spec §4.5
// "Events emitted").
const (
	ReasonClientDisconnect  = "client_disconnect"
	ReasonTransportFailure  = "transport_failure"
	ReasonConnectionQuality = "connection_quality"
	ReasonServerShutdown    = "server_shutdown_reason"
	ReasonExpired           = "expired"
	ReasonForcedEviction    = "forced_eviction"
)

// Errors surfaced to callers; these map to SessionError in spec §7 and are
// rendered as Error{code,...} frames by the transport layer, never as
// exceptions (spec §7 "Propagation policy").
var (
	ErrDuplicateSession = errors.New("session: duplicate session")
	ErrSessionNotFound  = errors.New("session: not found")
)

// Session is the server-side view of a client conversation (spec §3).
type Session struct {
	ID            string
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	Quality *quality.Tracker

	mu               sync.Mutex
	transport        Transport
	state            State
	lastMessageID    uint64
	isAlive          bool
	lastPingTime     time.Time
	missedHeartbeats int
	connectionScore  float64
	suspendedAt      time.Time
	closeCode        int
	closeReason      string
	buffer           *replayBuffer
}

// IsAlive reports whether a pong has been seen since the last ping.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAlive
}

// SetAlive updates the alive flag (spec §4.5 heartbeat tick / pong handler).
func (s *Session) SetAlive(alive bool) {
	s.mu.Lock()
	s.isAlive = alive
	s.mu.Unlock()
}

// LastPingTime returns the timestamp of the most recently sent ping, or the
// zero Time if none is outstanding.
func (s *Session) LastPingTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPingTime
}

// SetLastPingTime stamps the outstanding ping time.
func (s *Session) SetLastPingTime(t time.Time) {
	s.mu.Lock()
	s.lastPingTime = t
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BufferedCount returns the number of payloads currently queued for replay.
func (s *Session) BufferedCount() int {
	return s.buffer.len()
}

// NextMessageID mints a server-originated Data message id per spec §4.4:
// ms_since_epoch*1000 + rand[0,1000). Monotone within a session modulo
// clock moves; not globally unique across sessions.
func NextMessageID(now time.Time) uint64 {
	return uint64(now.UnixMilli())*1000 + uint64(rand.Intn(1000))
}

// Config bounds session lifetime and buffering (spec §5 defaults).
type Config struct {
	SessionTimeout   time.Duration
	Buffer           BufferConfig
	BufferingEnabled bool
}

// DefaultConfig returns spec §5's session_timeout default (300s) with
// buffering enabled at spec §4.4's defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:   300 * time.Second,
		Buffer:           DefaultBufferConfig(),
		BufferingEnabled: true,
	}
}

// EventSink is the narrow capability object an embedder implements to
// observe the four event kinds from spec §4.5, per Design Note §9 ("Event
// surface"): dispatched synchronously on the calling goroutine rather than
// through a dynamic listener registry.
type EventSink interface {
	OnConnection(s *Session)
	OnDisconnection(s *Session, reason string)
	OnMessage(payload []byte, messageID, timestamp uint64, s *Session)
	OnError(err error)
}

// Manager owns the attached and suspended session sets (spec §3
// invariant 1 and §4.4's state machine). A single mutex guards both maps,
// matching the teacher's ConnectionManager idiom; each Session's own mutex
// guards its mutable fields so the heartbeat tick and the inbound reader
// never block each other on unrelated sessions (spec §5).
type Manager struct {
	cfg    Config
	events EventSink

	mu        sync.RWMutex
	attached  map[string]*Session
	suspended map[string]*Session
}

// NewManager creates a Manager. events may be nil, in which case events are
// simply dropped (useful in tests that only check state transitions).
func NewManager(cfg Config, events EventSink) *Manager {
	if events == nil {
		events = noopSink{}
	}
	return &Manager{
		cfg:       cfg,
		events:    events,
		attached:  make(map[string]*Session),
		suspended: make(map[string]*Session),
	}
}

// Connect creates a fresh session for id and attaches transport (spec §4.4
// "Connect"). Fails with ErrDuplicateSession if id is already attached,
// without mutating any state (testable property 5).
func (m *Manager) Connect(id string, transport Transport, qcfg quality.Config, now time.Time) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.attached[id]; ok {
		m.mu.Unlock()
		return nil, ErrDuplicateSession
	}

	s := &Session{
		ID:            id,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Quality:       quality.New(qcfg, 30*time.Second),
		transport:     transport,
		state:         StateAttached,
		isAlive:       true,
		buffer:        newReplayBuffer(m.cfg.Buffer),
	}
	m.attached[id] = s
	delete(m.suspended, id) // Connect on a known id discards any prior suspension
	m.mu.Unlock()

	m.events.OnConnection(s)
	return s, nil
}

// Reconnect reattaches transport to a suspended session, replaying its
// buffer in insertion order before returning (spec §4.4 "Reconnect",
// testable property 6). Fails with ErrSessionNotFound if id is not
// suspended.
func (m *Manager) Reconnect(id string, transport Transport, now time.Time) (*Session, [][]byte, error) {
	m.mu.Lock()
	s, ok := m.suspended[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	delete(m.suspended, id)
	m.attached[id] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.transport = transport
	s.state = StateAttached
	s.isAlive = true
	s.LastHeartbeat = now
	s.mu.Unlock()

	replay := s.buffer.drain()
	m.events.OnConnection(s)
	return s, replay, nil
}

// Detach moves an attached session to suspended after a transport close
// (spec §4.4 "Detach (transport close)"). The suspension buffer remains
// live until Reconnect or expiry.
func (m *Manager) Detach(id string, reason string, now time.Time) {
	m.mu.Lock()
	s, ok := m.attached[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attached, id)
	m.suspended[id] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.transport = nil
	s.state = StateSuspended
	s.suspendedAt = now
	s.closeReason = reason
	s.mu.Unlock()

	m.events.OnDisconnection(s, reason)
}

// DisconnectExplicit handles an inbound Disconnect frame: the session moves
// straight to closed with no buffering (spec §4.4 "Disconnect frame
// (explicit)").
func (m *Manager) DisconnectExplicit(id string, reason string, now time.Time) {
	m.mu.Lock()
	s, ok := m.attached[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attached, id)
	m.mu.Unlock()

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.state = StateSuspended // closed; not eligible for reconnect (never re-added to suspended map)
	s.closeReason = reason
	s.mu.Unlock()

	if t != nil {
		_ = t.Close(1000, reason)
	}
	m.events.OnDisconnection(s, reason)
}

// Send delivers payload to id: directly if attached, buffered if suspended
// (subject to BufferingEnabled and the buffer's bounds), or false if
// unknown. Matches spec §4.4 "Replay buffer policy".
func (m *Manager) Send(id string, payload []byte) bool {
	m.mu.RLock()
	if s, ok := m.attached[id]; ok {
		m.mu.RUnlock()
		s.mu.Lock()
		t := s.transport
		s.mu.Unlock()
		if t == nil {
			return false
		}
		return t.Send(payload) == nil
	}
	s, ok := m.suspended[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if !m.cfg.BufferingEnabled {
		return false
	}
	if dropped := s.buffer.enqueue(payload); dropped > 0 {
		log.Printf("session: buffer overflow for session=%s, dropped=%d", id, dropped)
	}
	return true
}

// Broadcast sends payload to every attached session except exclude (spec
// §4.4 "Broadcast"). Best-effort: a per-recipient failure does not abort
// the broadcast. Returns the count of successful sends (testable
// property 10).
func (m *Manager) Broadcast(payload []byte, exclude string) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.attached))
	for id, s := range m.attached {
		if id == exclude {
			continue
		}
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		s.mu.Lock()
		t := s.transport
		s.mu.Unlock()
		if t == nil {
			continue
		}
		if err := t.Send(payload); err == nil {
			sent++
		}
	}
	return sent
}

// ExpireSuspended removes suspended sessions whose suspension has outlived
// session_timeout (spec §4.5 "Cleanup timer", testable property 7). Deadline
// is keyed off suspendedAt rather than last_heartbeat + session_timeout
// literally: Detach stamps suspendedAt at the moment of suspension, so the
// two are equivalent for a session that was alive up to that point, and
// suspendedAt is what's actually available once a session leaves m.attached.
// It returns the expired session ids so the caller can log/emit metrics.
func (m *Manager) ExpireSuspended(now time.Time) []string {
	m.mu.Lock()
	var expired []string
	for id, s := range m.suspended {
		s.mu.Lock()
		deadline := s.suspendedAt.Add(m.cfg.SessionTimeout)
		s.mu.Unlock()
		if now.After(deadline) {
			expired = append(expired, id)
			delete(m.suspended, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.events.OnDisconnection(&Session{ID: id}, ReasonExpired)
	}
	return expired
}

// ForceDisconnect closes an attached session immediately (spec §4.5
// heartbeat "force-disconnect", §7 CapacityRejection "upgrade closed").
func (m *Manager) ForceDisconnect(id string, code int, reason string) {
	m.mu.Lock()
	s, ok := m.attached[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attached, id)
	m.mu.Unlock()

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.closeReason = reason
	s.closeCode = code
	s.mu.Unlock()

	if t != nil {
		_ = t.Close(code, reason)
	}
	m.events.OnDisconnection(s, reason)
}

// Events returns the Manager's EventSink so callers outside this package
// (the transport server, which sees inbound frames the Manager itself never
// parses) can report OnMessage/OnError through the same sink used for
// connection lifecycle events.
func (m *Manager) Events() EventSink {
	return m.events
}

// Get returns the session for id, attached or suspended, and its state.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.attached[id]; ok {
		return s, true
	}
	if s, ok := m.suspended[id]; ok {
		return s, true
	}
	return nil, false
}

// Attached returns a snapshot of currently attached sessions.
func (m *Manager) Attached() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.attached))
	for _, s := range m.attached {
		out = append(out, s)
	}
	return out
}

// Counts returns the current attached/suspended cardinalities (spec §3
// invariant 5).
func (m *Manager) Counts() (attached, suspended int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attached), len(m.suspended)
}

// Shutdown closes every attached session with reason "Server shutdown"
// (spec §4.5 "Shutdown").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.attached))
	for _, s := range m.attached {
		sessions = append(sessions, s)
	}
	m.attached = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		t := s.transport
		s.transport = nil
		s.mu.Unlock()
		if t != nil {
			_ = t.Close(1000, "Server shutdown")
		}
		m.events.OnDisconnection(s, ReasonServerShutdown)
	}
}

type noopSink struct{}

func (noopSink) OnConnection(*Session)                       {}
func (noopSink) OnDisconnection(*Session, string)             {}
func (noopSink) OnMessage(_ []byte, _, _ uint64, _ *Session) {}
func (noopSink) OnError(error)                                {}
