// Package quality implements the per-session connection-quality tracker
// described in spec §4.2: a bounded latency window feeding a deterministic
// score, which in turn drives the adaptive heartbeat interval. It is
// intentionally a pure, standalone module over small numeric tuples (see
// spec §9 "Adaptive behavior") so it can be unit tested without a transport.
package quality

import (
	"math"
	"sync"
	"time"
)

// DefaultWindowSize is the default number of retained latency samples (W in
// spec §3).
const DefaultWindowSize = 10

// Action is the recommended operator action for the current score, per
// spec §4.2.
type Action int

const (
	ActionMaintain Action = iota
	ActionReduceInterval
	ActionDisconnect
)

func (a Action) String() string {
	switch a {
	case ActionMaintain:
		return "maintain"
	case ActionReduceInterval:
		return "reduce_interval"
	case ActionDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of a session's quality block (spec §3).
type Snapshot struct {
	LatencyMS                float64
	JitterMS                 float64
	PacketLoss               float64
	Stability                float64
	Score                    float64
	AdaptiveHeartbeatMS      int64
	LastUpdated              time.Time
	MissedHeartbeats         int
	LatencyHistoryLen        int
}

// Config bounds the adaptive heartbeat interval (spec §5 defaults: 30s,
// clamped to [5s,60s]).
type Config struct {
	WindowSize  int
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultConfig returns spec §5's defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:  DefaultWindowSize,
		MinInterval: 5 * time.Second,
		MaxInterval: 60 * time.Second,
	}
}

// Tracker holds one session's quality state. All exported methods are
// goroutine-safe; the heartbeat tick and the inbound reader both mutate the
// same Tracker under its own lock (spec §5).
type Tracker struct {
	cfg Config

	mu               sync.Mutex
	latencyHistory   []float64 // bounded to cfg.WindowSize, oldest evicted first
	missed           int
	lastUpdated      time.Time
	currentInterval  time.Duration
}

// New creates a Tracker initialized with the starting interval clamped to
// cfg's bounds (spec §4.2 "initialize").
func New(cfg Config, startInterval time.Duration) *Tracker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Tracker{
		cfg:             cfg,
		currentInterval: clamp(startInterval, cfg.MinInterval, cfg.MaxInterval),
	}
}

func clamp(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RecordLatency appends a latency sample (milliseconds), recomputes the
// derived quantities, and applies the adaptive interval transition. It
// returns the resulting Snapshot and recommended Action.
func (t *Tracker) RecordLatency(ms float64, now time.Time) (Snapshot, Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latencyHistory = append(t.latencyHistory, ms)
	if len(t.latencyHistory) > t.cfg.WindowSize {
		t.latencyHistory = t.latencyHistory[len(t.latencyHistory)-t.cfg.WindowSize:]
	}
	t.lastUpdated = now

	return t.recomputeLocked()
}

// RecordMissedHeartbeat increments the missed-heartbeat counter and
// recomputes the derived quantities (spec §4.5: called when a tick finds
// !is_alive).
func (t *Tracker) RecordMissedHeartbeat(now time.Time) (Snapshot, Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.missed++
	t.lastUpdated = now
	return t.recomputeLocked()
}

// ResetMissed clears the missed-heartbeat counter (spec §4.5: called on
// pong).
func (t *Tracker) ResetMissed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missed = 0
}

// Snapshot returns the current state without mutating it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, _ := t.deriveLocked()
	return snap
}

// recomputeLocked derives the quality quantities, applies the adaptive
// interval transition (spec §4.2), and returns both. Caller holds t.mu.
func (t *Tracker) recomputeLocked() (Snapshot, Action) {
	snap, action := t.deriveLocked()

	switch {
	case snap.Score >= 0.9:
		t.currentInterval = clamp(time.Duration(float64(t.currentInterval)*1.2), t.cfg.MinInterval, t.cfg.MaxInterval)
	case snap.Score >= 0.7:
		// no change
	case snap.Score >= 0.5:
		t.currentInterval = clamp(time.Duration(float64(t.currentInterval)*0.8), t.cfg.MinInterval, t.cfg.MaxInterval)
	default:
		t.currentInterval = t.cfg.MinInterval
	}

	snap.AdaptiveHeartbeatMS = t.currentInterval.Milliseconds()
	return snap, action
}

// deriveLocked computes the quality quantities from the current window and
// missed count without touching the adaptive interval. Caller holds t.mu.
func (t *Tracker) deriveLocked() (Snapshot, Action) {
	avgLatency := mean(t.latencyHistory)
	jitter := stddev(t.latencyHistory, avgLatency)

	denom := len(t.latencyHistory) + t.missed
	packetLoss := 0.0
	if denom > 0 {
		packetLoss = float64(t.missed) / float64(denom)
	}

	stability := math.Max(0, 1-jitter/100-packetLoss)

	latScore := math.Max(0, 1-avgLatency/1000)
	jitScore := math.Max(0, 1-jitter/500)
	score := 0.2*latScore + 0.2*jitScore + 0.3*(1-packetLoss) + 0.3*stability

	action := recommendedAction(score)

	snap := Snapshot{
		LatencyMS:         avgLatency,
		JitterMS:          jitter,
		PacketLoss:        packetLoss,
		Stability:         stability,
		Score:             score,
		AdaptiveHeartbeatMS: t.currentInterval.Milliseconds(),
		LastUpdated:       t.lastUpdated,
		MissedHeartbeats:  t.missed,
		LatencyHistoryLen: len(t.latencyHistory),
	}
	return snap, action
}

// recommendedAction maps a score to its Action (spec §4.2 "Recommended
// action").
func recommendedAction(score float64) Action {
	switch {
	case score >= 0.7:
		return ActionMaintain
	case score >= 0.3:
		return ActionReduceInterval
	default:
		return ActionDisconnect
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mu
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
