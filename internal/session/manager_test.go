package session

import (
	"errors"
	"testing"
	"time"

	"github.com/relaywire/sockets/internal/quality"
)

type fakeTransport struct {
	sent   [][]byte
	closed bool
	failSend bool
}

func (f *fakeTransport) Send(payload []byte) error {
	if f.failSend {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.closed = true
	return nil
}

type recordingSink struct {
	connected    []string
	disconnected []string
	reasons      []string
}

func (r *recordingSink) OnConnection(s *Session) {
	r.connected = append(r.connected, s.ID)
}
func (r *recordingSink) OnDisconnection(s *Session, reason string) {
	r.disconnected = append(r.disconnected, s.ID)
	r.reasons = append(r.reasons, reason)
}
func (r *recordingSink) OnMessage([]byte, uint64, uint64, *Session) {}
func (r *recordingSink) OnError(error)                              {}

func testConfig() Config {
	return Config{
		SessionTimeout:   300 * time.Second,
		Buffer:           DefaultBufferConfig(),
		BufferingEnabled: true,
	}
}

// TestConnectRejectsDuplicate covers testable property 5: Connect on an id
// already attached fails without mutating existing state.
func TestConnectRejectsDuplicate(t *testing.T) {
	m := NewManager(testConfig(), nil)
	now := time.Unix(1000, 0)
	tr1 := &fakeTransport{}

	if _, err := m.Connect("s1", tr1, quality.DefaultConfig(), now); err != nil {
		t.Fatalf("unexpected error on first connect: %v", err)
	}

	tr2 := &fakeTransport{}
	_, err := m.Connect("s1", tr2, quality.DefaultConfig(), now)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}

	s, ok := m.Get("s1")
	if !ok {
		t.Fatal("expected s1 to still exist")
	}
	s.mu.Lock()
	same := s.transport == Transport(tr1)
	s.mu.Unlock()
	if !same {
		t.Fatal("expected original transport to remain attached")
	}
}

// TestDetachThenReconnectReplaysBuffer covers spec scenario S1-style
// suspend/resume plus testable property 6: messages sent while suspended
// are replayed in order on Reconnect.
func TestDetachThenReconnectReplaysBuffer(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(testConfig(), sink)
	now := time.Unix(1000, 0)
	tr := &fakeTransport{}

	m.Connect("s1", tr, quality.DefaultConfig(), now)
	m.Detach("s1", ReasonTransportFailure, now.Add(time.Second))

	if ok := m.Send("s1", []byte("a")); !ok {
		t.Fatal("expected buffered send to succeed while suspended")
	}
	if ok := m.Send("s1", []byte("b")); !ok {
		t.Fatal("expected second buffered send to succeed while suspended")
	}

	tr2 := &fakeTransport{}
	s, replay, err := m.Reconnect("s1", tr2, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected reconnect error: %v", err)
	}
	if len(replay) != 2 || string(replay[0]) != "a" || string(replay[1]) != "b" {
		t.Fatalf("expected replay [a b], got %v", replay)
	}
	if s.State() != StateAttached {
		t.Fatal("expected state attached after reconnect")
	}
	if s.BufferedCount() != 0 {
		t.Fatal("expected buffer drained after reconnect")
	}

	if len(sink.connected) != 2 {
		t.Fatalf("expected 2 OnConnection events, got %d", len(sink.connected))
	}
	if len(sink.disconnected) != 1 || sink.reasons[0] != ReasonTransportFailure {
		t.Fatalf("expected 1 disconnection with transport_failure reason, got %v / %v", sink.disconnected, sink.reasons)
	}
}

// TestReconnectUnknownSessionFails covers the ErrSessionNotFound path.
func TestReconnectUnknownSessionFails(t *testing.T) {
	m := NewManager(testConfig(), nil)
	_, _, err := m.Reconnect("ghost", &fakeTransport{}, time.Unix(0, 0))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// TestDisconnectExplicitClosesWithoutBuffering covers spec §4.4 "Disconnect
// frame (explicit)": no buffering, transport closed immediately, and the
// session is not reconnectable afterward.
func TestDisconnectExplicitClosesWithoutBuffering(t *testing.T) {
	m := NewManager(testConfig(), nil)
	now := time.Unix(1000, 0)
	tr := &fakeTransport{}

	m.Connect("s1", tr, quality.DefaultConfig(), now)
	m.DisconnectExplicit("s1", ReasonClientDisconnect, now)

	if !tr.closed {
		t.Fatal("expected transport to be closed")
	}
	if _, _, err := m.Reconnect("s1", &fakeTransport{}, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("expected explicitly-disconnected session to not be reconnectable")
	}
}

// TestExpireSuspendedRemovesStale covers testable property 7: a suspended
// session past session_timeout is expired and removed.
func TestExpireSuspendedRemovesStale(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Second
	m := NewManager(cfg, nil)
	now := time.Unix(1000, 0)

	m.Connect("s1", &fakeTransport{}, quality.DefaultConfig(), now)
	m.Detach("s1", ReasonTransportFailure, now)

	expired := m.ExpireSuspended(now.Add(5 * time.Second))
	if len(expired) != 0 {
		t.Fatalf("expected no expiry yet, got %v", expired)
	}

	expired = m.ExpireSuspended(now.Add(11 * time.Second))
	if len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expected s1 expired, got %v", expired)
	}
	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected s1 removed after expiry")
	}
}

// TestBroadcastSkipsExcludedAndToleratesFailures covers testable property
// 10: broadcast delivers best-effort to all attached sessions except the
// excluded one, tolerating per-recipient failures.
func TestBroadcastSkipsExcludedAndToleratesFailures(t *testing.T) {
	m := NewManager(testConfig(), nil)
	now := time.Unix(1000, 0)

	trA := &fakeTransport{}
	trB := &fakeTransport{failSend: true}
	trC := &fakeTransport{}

	m.Connect("a", trA, quality.DefaultConfig(), now)
	m.Connect("b", trB, quality.DefaultConfig(), now)
	m.Connect("c", trC, quality.DefaultConfig(), now)

	sent := m.Broadcast([]byte("hi"), "a")
	if sent != 1 {
		t.Fatalf("expected 1 successful send (c only, b fails, a excluded), got %d", sent)
	}
	if len(trA.sent) != 0 {
		t.Fatal("expected excluded session a to receive nothing")
	}
	if len(trC.sent) != 1 {
		t.Fatal("expected c to receive the broadcast")
	}
}

// TestSendToUnknownSessionFails ensures Send reports failure for an id that
// is neither attached nor suspended.
func TestSendToUnknownSessionFails(t *testing.T) {
	m := NewManager(testConfig(), nil)
	if ok := m.Send("ghost", []byte("x")); ok {
		t.Fatal("expected send to unknown session to fail")
	}
}

// TestShutdownClosesAllAttached covers spec §4.5 "Shutdown".
func TestShutdownClosesAllAttached(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(testConfig(), sink)
	now := time.Unix(1000, 0)

	trA := &fakeTransport{}
	trB := &fakeTransport{}
	m.Connect("a", trA, quality.DefaultConfig(), now)
	m.Connect("b", trB, quality.DefaultConfig(), now)

	m.Shutdown()

	if !trA.closed || !trB.closed {
		t.Fatal("expected both transports closed on shutdown")
	}
	attached, _ := m.Counts()
	if attached != 0 {
		t.Fatalf("expected 0 attached after shutdown, got %d", attached)
	}
	for _, r := range sink.reasons {
		if r != ReasonServerShutdown {
			t.Fatalf("expected shutdown reason, got %s", r)
		}
	}
}

// TestNextMessageIDMonotonicAcrossDistinctTimestamps is a light sanity check
// on the message-id formula (spec §4.4: ms_since_epoch*1000 + rand[0,1000)).
func TestNextMessageIDMonotonicAcrossDistinctTimestamps(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	t1 := t0.Add(time.Millisecond)

	id0 := NextMessageID(t0)
	id1 := NextMessageID(t1)
	if id1 <= id0 {
		t.Fatalf("expected strictly increasing ids across distinct ms, got %d then %d", id0, id1)
	}
}

func TestValidateIDRejectsEmptyAndOversized(t *testing.T) {
	if err := ValidateID(""); err == nil {
		t.Fatal("expected error for empty id")
	}
	big := make([]byte, MaxSessionIDBytes+1)
	if err := ValidateID(string(big)); err == nil {
		t.Fatal("expected error for oversized id")
	}
	if err := ValidateID("ok"); err != nil {
		t.Fatalf("unexpected error for valid id: %v", err)
	}
}
