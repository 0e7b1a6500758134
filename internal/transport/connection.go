// Package transport is the server core (spec §3 component C5): it accepts
// WebSocket upgrades, multiplexes I/O with epoll on Linux, decodes frames via
// internal/frame, and drives an internal/session.Manager and
// internal/quality.Tracker per connection. Adapted from the teacher's
// internal/ws package.
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single live WebSocket socket together with the bookkeeping
// the event loop and heartbeat need. It implements session.Transport.
type Connection struct {
	ID        string
	ClientKey string // IP-derived key used by internal/pool to track reuse
	Conn      net.Conn
	Fd        int
	CreatedAt time.Time
	LastFrame time.Time

	writeMu    sync.Mutex
	processing int32 // atomic: 0 idle, 1 being read by handleConn
}

// Send writes a binary WebSocket frame carrying payload. Binary, not text,
// since internal/frame's wire format is the tagged msgpack-raw encoding
// (spec §1 "binary framing"); frame.Decode on the receiving side still
// tolerates a text JSON frame from older or minimal clients.
func (c *Connection) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpBinary, payload)
}

// SendText writes a text WebSocket frame carrying payload. The server's own
// responses go through Send, so they are binary even for text clients.
func (c *Connection) SendText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, payload)
}

// Close satisfies session.Transport; code and reason are ignored and the raw
// TCP close carries no WebSocket close-frame payload, since the peer is
// usually already gone by the time this runs.
func (c *Connection) Close(code int, reason string) error {
	return c.Conn.Close()
}

// WritePing sends a protocol-level ping frame (spec §4.5 adaptive
// heartbeat tick).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// ConnectionManager is a thread-safe registry mapping session ids and file
// descriptors to their Connection, mirroring the teacher's
// internal/ws.ConnectionManager.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers conn under its fd, and under its session id if one has
// already been assigned. A freshly upgraded connection has no session id
// yet (spec §4.5 Dispatch: the client attaches via a Connect/Reconnect
// frame, not the upgrade request), so it is only reachable by fd until
// BindID is called.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	if conn.ID != "" {
		cm.byID[conn.ID] = conn
	}
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// BindID registers conn under its session id after Connect/Reconnect
// assigns one, making it reachable via Get/Remove(id) in addition to fd.
func (cm *ConnectionManager) BindID(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove deletes the connection for id from both maps and closes the
// socket. Returns false if id was already gone (guards double cleanup when
// a read error races the heartbeat timeout).
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Conn.Close()
	}
	return ok
}

// RemoveByFd deletes the connection for fd, used for sockets that never
// completed a Connect/Reconnect handshake and so have no session id.
func (cm *ConnectionManager) RemoveByFd(fd int) bool {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		delete(cm.byFd, fd)
		if conn.ID != "" {
			delete(cm.byID, conn.ID)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Conn.Close()
	}
	return ok
}

// Get returns the connection for id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByFd returns the connection for fd, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byFd[fd]
}

// GetByConn resolves a net.Conn back to its Connection via its fd.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the number of connections bound to a session id; sockets
// still waiting for a Connect/Reconnect frame are not counted.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of every connection bound to a session id.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		out = append(out, c)
	}
	return out
}

// tryAcquireProcessing CAS-guards against duplicate dispatch from
// level-triggered epoll waking the same fd twice before the first read
// finishes.
func (c *Connection) tryAcquireProcessing() bool {
	return atomic.CompareAndSwapInt32(&c.processing, 0, 1)
}

func (c *Connection) releaseProcessing() {
	atomic.StoreInt32(&c.processing, 0)
}
