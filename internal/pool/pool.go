// Package pool implements the persistent connection pool described in
// spec §4.3: acquire/reuse/evict against a capacity ceiling, LRU eviction
// of idle entries under pressure, and adaptive idle timeouts driven by a
// per-client behavior profile. The in-memory maps here are authoritative;
// internal/pool's optional Redis mirror (redis_index.go) only persists
// the behavior-profile inputs across restarts, never correctness-bearing
// state (spec §9 "Global state: None intended").
package pool

import (
	"sync"
	"time"
)

// Outcome describes the result of an Acquire call.
type Outcome int

const (
	OutcomeReused Outcome = iota
	OutcomeCreated
	OutcomeFailure
)

// CloseReason is recorded on an entry when it is removed from the pool.
type CloseReason string

const (
	CloseForced  CloseReason = "forced_close"
	CloseTimeout CloseReason = "timeout"
	CloseManual  CloseReason = "manual"
)

// Entry is a pool entry (spec §3 "Pool entry (P)"), keyed by client id.
type Entry struct {
	ClientID      string
	CreatedAt     time.Time
	LastActivity  time.Time
	RequestCount  int
	IsActive      bool
	IsIdle        bool
	IdleTimeout   time.Duration
	LRUTimestamp  time.Time

	idleTimer *time.Timer
}

// Config bounds pool capacity and the adaptive idle timeout range (spec §5:
// idle_timeout default 120s, bounded [30s,300s]).
type Config struct {
	MaxConnections int
	DefaultIdle    time.Duration
	MinIdle        time.Duration
	MaxIdle        time.Duration
}

// DefaultConfig returns spec defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1000,
		DefaultIdle:    120 * time.Second,
		MinIdle:        30 * time.Second,
		MaxIdle:        300 * time.Second,
	}
}

// Stats is a point-in-time snapshot of pool counters (spec §4.3
// "Statistics").
type Stats struct {
	Size             int
	ActiveCount      int
	IdleCount        int
	Hits             int64
	TotalRequests    int64
	ForcedCloses     int64
	TimeoutCloses    int64
	ReusedConnections int64
}

// HitRate returns hits/total_requests, or 0 when there have been no
// requests yet (spec testable property 4).
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// Utilization returns |pool|/max_connections * 100.
func (s Stats) Utilization(maxConnections int) float64 {
	if maxConnections == 0 {
		return 0
	}
	return float64(s.Size) / float64(maxConnections) * 100
}

// OnTimeoutClose is invoked when an idle entry's timer fires while still
// idle (spec §4.3 "Idle / close").
type OnTimeoutClose func(entry Entry)

// Pool is a goroutine-safe registry of client connections, mirroring the
// teacher's ConnectionManager locking idiom (a single mutex guarding the
// lookup map) but adding the active/idle partition, LRU ordering and
// behavior-driven adaptive timeouts spec §4.3 requires.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*Entry // client_id -> entry

	behaviors *BehaviorStore

	stats Stats

	onTimeout OnTimeoutClose
}

// New creates an empty Pool.
func New(cfg Config, behaviors *BehaviorStore, onTimeout OnTimeoutClose) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if behaviors == nil {
		behaviors = NewBehaviorStore()
	}
	return &Pool{
		cfg:       cfg,
		entries:   make(map[string]*Entry),
		behaviors: behaviors,
		onTimeout: onTimeout,
	}
}

// Acquire implements the three-step protocol from spec §4.3: reuse an
// existing entry (reactivating it if idle), create a new one under
// capacity, or evict the LRU idle
// entry under pressure. now is injected for deterministic tests.
func (p *Pool) Acquire(clientID string, now time.Time) (Outcome, *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalRequests++

	if e, ok := p.entries[clientID]; ok {
		if e.IsIdle {
			if e.idleTimer != nil {
				e.idleTimer.Stop()
				e.idleTimer = nil
			}
			e.IsIdle = false
		}
		e.IsActive = true
		e.LastActivity = now
		e.LRUTimestamp = now
		e.RequestCount++
		p.stats.Hits++
		p.stats.ReusedConnections++
		p.behaviors.RecordReuse(clientID, now)
		return OutcomeReused, e
	}

	if len(p.entries) < p.cfg.MaxConnections {
		e := p.newEntryLocked(clientID, now)
		return OutcomeCreated, e
	}

	if victim := p.lruIdleLocked(); victim != nil {
		p.closeLocked(victim, CloseForced, now)
		e := p.newEntryLocked(clientID, now)
		return OutcomeCreated, e
	}

	return OutcomeFailure, nil
}

func (p *Pool) newEntryLocked(clientID string, now time.Time) *Entry {
	idle := p.behaviors.AdaptiveTimeout(clientID, p.cfg)
	e := &Entry{
		ClientID:     clientID,
		CreatedAt:    now,
		LastActivity: now,
		RequestCount: 1,
		IsActive:     true,
		IdleTimeout:  idle,
		LRUTimestamp: now,
	}
	p.entries[clientID] = e
	p.behaviors.RecordNewConnection(clientID, now)
	return e
}

// lruIdleLocked returns the idle entry with the oldest LRUTimestamp, or nil
// if there are no idle entries. Caller holds p.mu.
func (p *Pool) lruIdleLocked() *Entry {
	var victim *Entry
	for _, e := range p.entries {
		if !e.IsIdle {
			continue
		}
		if victim == nil || e.LRUTimestamp.Before(victim.LRUTimestamp) {
			victim = e
		}
	}
	return victim
}

// MarkIdle transitions an active entry to idle and arms its idle timer
// (spec §4.3 "Idle / close"). The timer is armed only when the Pool was
// created with a non-nil OnTimeoutClose; tests that don't need it pass nil.
func (p *Pool) MarkIdle(clientID string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[clientID]
	if !ok || !e.IsActive {
		return false
	}
	e.IsActive = false
	e.IsIdle = true
	e.LRUTimestamp = now

	if p.onTimeout != nil {
		timeout := e.IdleTimeout
		if e.idleTimer != nil {
			e.idleTimer.Stop()
		}
		e.idleTimer = time.AfterFunc(timeout, func() {
			p.fireIdleTimeout(clientID)
		})
	}
	return true
}

func (p *Pool) fireIdleTimeout(clientID string) {
	p.mu.Lock()
	e, ok := p.entries[clientID]
	if !ok || !e.IsIdle {
		p.mu.Unlock()
		return
	}
	snapshot := *e
	p.closeLocked(e, CloseTimeout, time.Now())
	p.mu.Unlock()

	if p.onTimeout != nil {
		p.onTimeout(snapshot)
	}
}

// Close removes an entry from the pool for the given reason.
func (p *Pool) Close(clientID string, reason CloseReason, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[clientID]
	if !ok {
		return false
	}
	p.closeLocked(e, reason, now)
	return true
}

// closeLocked removes e from the pool and updates close-reason counters.
// Caller holds p.mu.
func (p *Pool) closeLocked(e *Entry, reason CloseReason, now time.Time) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	delete(p.entries, e.ClientID)
	switch reason {
	case CloseForced:
		p.stats.ForcedCloses++
	case CloseTimeout:
		p.stats.TimeoutCloses++
	}
}

// Stats returns a point-in-time snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Size = len(p.entries)
	for _, e := range p.entries {
		if e.IsActive {
			s.ActiveCount++
		}
		if e.IsIdle {
			s.IdleCount++
		}
	}
	return s
}

// Get returns a copy of the entry for clientID, or false if absent.
func (p *Pool) Get(clientID string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Size returns the current entry count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
