package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/relaywire/sockets/internal/frame"
	"github.com/relaywire/sockets/internal/metrics"
	"github.com/relaywire/sockets/internal/pool"
	"github.com/relaywire/sockets/internal/quality"
	"github.com/relaywire/sockets/internal/security"
	"github.com/relaywire/sockets/internal/session"
)

// Config holds tunable parameters for the relay server, generalized from
// the teacher's ws.ServerConfig.
type Config struct {
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Heartbeat      HeartbeatConfig
}

// DefaultConfig mirrors the teacher's DefaultServerConfig defaults, with
// MaxFrameSize replaced by internal/frame's fixed MaxFrameBytes.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server core (spec §3 component C5): it upgrades
// HTTP connections, multiplexes I/O with epoll, decodes frames, and drives
// the session Manager. Adapted from the teacher's internal/ws.Server.
type Server struct {
	config   Config
	epoll    *Epoll
	conns    *ConnectionManager
	sessions *session.Manager
	guard    *security.Guard

	// pool tracks per-client-IP connection reuse/eviction independently of
	// the raw per-socket Connection bookkeeping above (spec §4.3
	// "Persistent connection pool"). Optional: nil disables pool-based
	// admission and every upgrade is treated as unconditionally poolable.
	pool *pool.Pool

	// onData is invoked with the payload of every decoded Data frame from an
	// attached session, before the OnMessage event is emitted. The
	// application layer (cmd/relaysockd) wires this to its own routing.
	onData func(sessionID string, payload []byte)

	workerPool chan struct{}
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
	draining   atomic.Bool
}

// NewServer creates a Server. connPool may be nil to disable pool-based
// admission.
func NewServer(cfg Config, sessions *session.Manager, guard *security.Guard, connPool *pool.Pool, onData func(sessionID string, payload []byte)) *Server {
	return &Server{
		config:     cfg,
		conns:      NewConnectionManager(),
		sessions:   sessions,
		guard:      guard,
		pool:       connPool,
		onData:     onData,
		workerPool: make(chan struct{}, cfg.WorkerPoolSize),
		done:       make(chan struct{}),
	}
}

// Start creates the epoll instance, wires the HTTP mux, and blocks serving
// HTTP until Shutdown is called.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("transport: epoll init: %w", err)
	}
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{Addr: s.config.ListenAddr, Handler: mux}

	go s.startEventLoop()
	go s.startHeartbeat(s.config.Heartbeat)
	go s.startExpiryLoop()

	log.Printf("transport: listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("transport: http server error: %w", err)
	}
	return nil
}

// startExpiryLoop periodically sweeps suspended sessions past
// session_timeout (spec §4.5 "Cleanup timer").
func (s *Server) startExpiryLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			expired := s.sessions.ExpireSuspended(time.Now())
			if len(expired) > 0 {
				log.Printf("transport: expired %d suspended sessions", len(expired))
			}
		}
	}
}

// handleUpgrade admits, upgrades, and attaches a new or resumed session.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.guard != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		decision := s.guard.Admit(ctx, r)
		cancel()
		if !decision.Allow {
			metrics.SecurityRejectionsTotal.WithLabelValues(decision.Reason).Inc()
			http.Error(w, decision.Reason, decision.HTTPStatus)
			return
		}
	}

	clientKey := security.ClientIP(r)
	if s.pool != nil {
		if outcome, _ := s.pool.Acquire(clientKey, time.Now()); outcome == pool.OutcomeFailure {
			http.Error(w, "connection pool exhausted", http.StatusServiceUnavailable)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("transport: upgrade failed: %v", err)
		return
	}

	// The raw socket is now live, but it carries no session yet: per spec
	// §4.5 Dispatch the client attaches by sending a Connect or Reconnect
	// frame as its first message, not via the upgrade request itself.
	fd := socketFD(conn)
	now := time.Now()
	c := &Connection{Conn: conn, Fd: fd, ClientKey: clientKey, CreatedAt: now, LastFrame: now}
	s.registerConn(c)
}

// handleConnectFrame processes an inbound Connect frame (spec §4.5 Dispatch,
// scenarios S1/S2): a connection with no session yet attaches to a new or
// explicitly-requested session id, or is refused with Error{409} if that id
// is already attached elsewhere.
func (s *Server) handleConnectFrame(c *Connection, payload frame.ConnectPayload) {
	if c.ID != "" {
		s.sendControl(c, frame.NewError(frame.ErrCodeDuplicate, "connection already attached to a session"))
		return
	}

	id := payload.SessionID
	if id == "" {
		id = newSessionID()
	}
	now := time.Now()

	if _, err := s.sessions.Connect(id, c, quality.DefaultConfig(), now); err != nil {
		if errors.Is(err, session.ErrDuplicateSession) {
			s.sendControl(c, frame.NewError(frame.ErrCodeDuplicate, "session already connected"))
			return
		}
		log.Printf("transport: connect rejected session=%s: %v", id, err)
		s.sendControl(c, frame.NewError(frame.ErrCodeInternal, "connect failed"))
		return
	}

	c.ID = id
	s.conns.BindID(c)
	s.sendControl(c, frame.NewConnect(id, ""))
	log.Printf("transport: connected session=%s fd=%d (total=%d)", id, c.Fd, s.conns.Count())
}

// handleReconnectFrame processes an inbound Reconnect frame (spec §4.5
// Dispatch, scenario S3): resumes a suspended session onto this connection
// and replays its buffered payloads.
func (s *Server) handleReconnectFrame(c *Connection, payload frame.ReconnectPayload) {
	if c.ID != "" {
		s.sendControl(c, frame.NewError(frame.ErrCodeDuplicate, "connection already attached to a session"))
		return
	}
	id := payload.SessionID
	if id == "" {
		s.sendControl(c, frame.NewError(frame.ErrCodeInvalid, "reconnect requires a session id"))
		return
	}

	now := time.Now()
	_, replay, err := s.sessions.Reconnect(id, c, now)
	if err != nil {
		log.Printf("transport: reconnect rejected session=%s: %v", id, err)
		s.sendControl(c, frame.NewError(frame.ErrCodeSessionNotFound, "unknown session"))
		return
	}

	c.ID = id
	s.conns.BindID(c)
	s.sendControl(c, frame.NewReconnect(id))
	for _, payload := range replay {
		_ = c.Send(payload)
	}
	log.Printf("transport: reconnected session=%s fd=%d replayed=%d", id, c.Fd, len(replay))
}

func (s *Server) registerConn(c *Connection) {
	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))
	if err := s.epoll.Add(c.Conn); err != nil {
		log.Printf("transport: epoll add failed fd=%d: %v", c.Fd, err)
		if c.ID != "" {
			s.conns.Remove(c.ID)
		} else {
			s.conns.RemoveByFd(c.Fd)
		}
	}
}

func (s *Server) sendControl(c *Connection, msg frame.Message) {
	data, err := frame.EncodeBinary(msg)
	if err != nil {
		log.Printf("transport: encode control frame failed session=%s kind=%s: %v", c.ID, msg.Kind, err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Printf("transport: send control frame failed session=%s kind=%s: %v", c.ID, msg.Kind, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	attached, suspended := s.sessions.Counts()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Attached    int    `json:"sessions_attached"`
		Suspended   int    `json:"sessions_suspended"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Attached:    attached,
		Suspended:   suspended,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// startEventLoop runs the epoll wait loop, dispatching ready connections to
// a bounded worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				log.Printf("transport: epoll wait error: %v", err)
				continue
			}
		}

		for _, netConn := range conns {
			netConn := netConn
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(netConn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection and routes it.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	if !c.tryAcquireProcessing() {
		return
	}
	defer c.releaseProcessing()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.removeConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	now := time.Now()
	c.LastFrame = now
	if sess, ok := s.sessions.Get(c.ID); ok {
		// Any frame proves liveness, but RTT is only meaningful as the
		// response to our own outstanding ping (spec §4.5: "record
		// latency = now - last_ping_time on pong").
		if !sess.IsAlive() {
			if last := sess.LastPingTime(); !last.IsZero() {
				sess.Quality.RecordLatency(float64(now.Sub(last).Milliseconds()), now)
			}
			sess.SetLastPingTime(time.Time{})
		}
		sess.SetAlive(true)
		sess.Quality.ResetMissed()
	}

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.removeConnection(c)
		}
		return
	}

	if header.Length > frame.MaxFrameBytes {
		_, _ = io.Copy(io.Discard, reader)
		s.sendControl(c, frame.NewError(frame.ErrCodeInvalid, "frame exceeds maximum size"))
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.removeConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	s.handleFrame(c, data, header.OpCode == ws.OpText)
}

func (s *Server) handleFrame(c *Connection, data []byte, isText bool) {
	msg, err := frame.Decode(data, isText)
	if err != nil {
		s.sendControl(c, frame.NewError(frame.ErrCodeInvalid, "malformed frame"))
		if sink := s.sessions.Events(); sink != nil {
			sink.OnError(err)
		}
		return
	}

	switch msg.Kind {
	case frame.KindConnect:
		s.handleConnectFrame(c, msg.Connect)
	case frame.KindReconnect:
		s.handleReconnectFrame(c, msg.Reconnect)
	case frame.KindHeartbeat:
		// Client-initiated pong-equivalent: any frame already marks the
		// session alive above; nothing further to do.
	case frame.KindData:
		if c.ID == "" {
			s.sendControl(c, frame.NewError(frame.ErrCodeNotAuthed, "send connect or reconnect before data"))
			return
		}
		if s.onData != nil {
			s.onData(c.ID, msg.Data.Payload)
		}
		if sink := s.sessions.Events(); sink != nil {
			if sess, ok := s.sessions.Get(c.ID); ok {
				sink.OnMessage(msg.Data.Payload, msg.Data.MessageID, msg.Data.Timestamp, sess)
			}
		}
		metrics.MessagesTotal.WithLabelValues("received").Inc()
	case frame.KindDisconnect:
		if c.ID == "" {
			s.sendControl(c, frame.NewError(frame.ErrCodeNotAuthed, "send connect or reconnect before disconnect"))
			return
		}
		s.sessions.DisconnectExplicit(c.ID, msg.Disconnect.Reason, time.Now())
	default:
		s.sendControl(c, frame.NewError(frame.ErrCodeInvalid, "unknown frame kind"))
	}
}

// removeConnection unregisters c from epoll/conns and detaches its session
// (spec §4.4 "Detach (transport close)").
func (s *Server) removeConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	var removed bool
	if c.ID != "" {
		removed = s.conns.Remove(c.ID)
	} else {
		removed = s.conns.RemoveByFd(c.Fd)
	}
	if !removed {
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))
	if s.pool != nil {
		s.pool.MarkIdle(c.ClientKey, time.Now())
	}
	if c.ID != "" {
		s.detach(c.ID, session.ReasonTransportFailure)
	}
}

func (s *Server) detach(id string, reason string) {
	s.sessions.Detach(id, reason, time.Now())
}

func (s *Server) forceDisconnect(id string, code int, reason string) {
	s.conns.Remove(id)
	s.sessions.ForceDisconnect(id, code, reason)
}

// SendMessage writes a Data frame to the connection for sessionID, if one
// is currently attached.
func (s *Server) SendMessage(sessionID string, payload []byte, messageID, timestamp uint64) error {
	msg := frame.NewData(payload, messageID, timestamp)
	data, err := frame.EncodeBinary(msg)
	if err != nil {
		return fmt.Errorf("transport: encode data frame: %w", err)
	}
	if ok := s.sessions.Send(sessionID, data); !ok {
		return fmt.Errorf("transport: session %s not found", sessionID)
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// Shutdown performs a graceful shutdown: stop accepting, notify attached
// sessions, drain with a deadline, then force-close (spec §4.5 "Shutdown").
func (s *Server) Shutdown() error {
	log.Println("transport: initiating graceful shutdown")
	s.draining.Store(true)

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(httpCtx); err != nil {
			log.Printf("transport: http shutdown error: %v", err)
		}
	}

	s.sessions.Shutdown()

	drainDeadline := time.After(30 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

drainLoop:
	for {
		select {
		case <-drainDeadline:
			break drainLoop
		case <-ticker.C:
			if s.conns.Count() == 0 {
				break drainLoop
			}
		}
	}

	close(s.done)
	for _, c := range s.conns.All() {
		_ = s.epoll.Remove(c.Conn)
		c.Conn.Close()
	}
	if s.epoll != nil {
		_ = s.epoll.Close()
	}
	log.Println("transport: server stopped")
	return nil
}

func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" || err.Error() == "errno 4"
}

// newSessionID mints a fresh opaque session id for a client that did not
// supply one on Connect, matching the teacher's uuid.New().String() idiom
// in internal/ws.Server.handleUpgrade.
func newSessionID() string {
	return uuid.New().String()
}
