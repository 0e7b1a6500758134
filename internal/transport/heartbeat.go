package transport

import (
	"log"
	"time"

	"github.com/relaywire/sockets/internal/quality"
	"github.com/relaywire/sockets/internal/session"
)

// HeartbeatConfig bounds the minimum tick rate of the driving ticker; each
// session's actual ping cadence is its own Quality.Snapshot().AdaptiveHeartbeatMS
// (spec §4.5 "adaptive heartbeat tick"), checked against this ticker.
type HeartbeatConfig struct {
	TickInterval time.Duration // how often the driver loop wakes to check sessions
}

// DefaultHeartbeatConfig ticks at the tracker's minimum possible interval so
// no session's adaptive schedule is ever missed.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{TickInterval: quality.DefaultConfig().MinInterval}
}

// startHeartbeat runs the adaptive heartbeat loop: every TickInterval it
// visits each attached session and, if that session's own adaptive
// interval has elapsed since its last ping, sends a ping or declares it
// dead (spec §4.5).
func (s *Server) startHeartbeat(cfg HeartbeatConfig) {
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkHeartbeats()
		}
	}
}

func (s *Server) checkHeartbeats() {
	now := time.Now()
	for _, sess := range s.sessions.Attached() {
		due := sess.LastPingTime().Add(time.Duration(sess.Quality.Snapshot().AdaptiveHeartbeatMS) * time.Millisecond)
		if sess.LastPingTime().IsZero() {
			due = now
		}
		if now.Before(due) {
			continue
		}

		if !sess.IsAlive() {
			snap, action := sess.Quality.RecordMissedHeartbeat(now)
			log.Printf("transport: missed heartbeat session=%s score=%.2f action=%s", sess.ID, snap.Score, action)
			if action == quality.ActionDisconnect {
				s.forceDisconnect(sess.ID, 1001, session.ReasonConnectionQuality)
				continue
			}
		}

		conn := s.conns.Get(sess.ID)
		if conn == nil {
			continue
		}
		sess.SetAlive(false)
		sess.SetLastPingTime(now)
		if err := conn.WritePing(); err != nil {
			log.Printf("transport: ping failed session=%s: %v", sess.ID, err)
			s.detach(sess.ID, session.ReasonTransportFailure)
		}
	}
}
