package quality

import (
	"testing"
	"time"
)

func TestAdaptiveIntervalAggressiveUnderPoorQuality(t *testing.T) {
	cfg := Config{WindowSize: 10, MinInterval: 5 * time.Second, MaxInterval: 60 * time.Second}
	tr := New(cfg, 30*time.Second)

	samples := []float64{800, 900, 1200, 1500, 2000}
	var snap Snapshot
	now := time.Unix(0, 0)
	for _, ms := range samples {
		snap, _ = tr.RecordLatency(ms, now)
		now = now.Add(time.Second)
	}

	if snap.Score >= 0.5 {
		t.Fatalf("expected score < 0.5, got %f", snap.Score)
	}
	if snap.AdaptiveHeartbeatMS != 5000 {
		t.Fatalf("expected adaptive interval clamped to min 5000ms, got %d", snap.AdaptiveHeartbeatMS)
	}
}

func TestAdaptiveIntervalRelaxesOnExcellentQuality(t *testing.T) {
	cfg := Config{WindowSize: 10, MinInterval: 5 * time.Second, MaxInterval: 60 * time.Second}
	tr := New(cfg, 30*time.Second)
	now := time.Unix(0, 0)

	var snap Snapshot
	for i := 0; i < 5; i++ {
		snap, _ = tr.RecordLatency(10, now)
		now = now.Add(time.Second)
	}

	if snap.Score < 0.9 {
		t.Fatalf("expected near-perfect score for consistently low latency, got %f", snap.Score)
	}
	if snap.AdaptiveHeartbeatMS <= 30000 {
		t.Fatalf("expected interval to relax above the 30s starting point, got %d", snap.AdaptiveHeartbeatMS)
	}
}

func TestIntervalAlwaysWithinBounds(t *testing.T) {
	cfg := Config{WindowSize: 10, MinInterval: 5 * time.Second, MaxInterval: 60 * time.Second}
	tr := New(cfg, 30*time.Second)
	now := time.Unix(0, 0)

	latencies := []float64{5, 5000, 10, 3000, 1, 800, 50, 2000, 0, 4000, 100}
	for _, ms := range latencies {
		snap, _ := tr.RecordLatency(ms, now)
		if snap.AdaptiveHeartbeatMS < cfg.MinInterval.Milliseconds() || snap.AdaptiveHeartbeatMS > cfg.MaxInterval.Milliseconds() {
			t.Fatalf("interval %dms escaped bounds [%d,%d]", snap.AdaptiveHeartbeatMS, cfg.MinInterval.Milliseconds(), cfg.MaxInterval.Milliseconds())
		}
		now = now.Add(time.Second)
	}
}

func TestLatencyHistoryBoundedByWindow(t *testing.T) {
	cfg := Config{WindowSize: 3, MinInterval: 5 * time.Second, MaxInterval: 60 * time.Second}
	tr := New(cfg, 30*time.Second)
	now := time.Unix(0, 0)

	for i := 0; i < 20; i++ {
		snap, _ := tr.RecordLatency(float64(i), now)
		if snap.LatencyHistoryLen > cfg.WindowSize {
			t.Fatalf("history length %d exceeds window %d", snap.LatencyHistoryLen, cfg.WindowSize)
		}
		now = now.Add(time.Second)
	}
}

func TestRecommendedActionThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Action
	}{
		{0.95, ActionMaintain},
		{0.7, ActionMaintain},
		{0.69, ActionReduceInterval},
		{0.3, ActionReduceInterval},
		{0.29, ActionDisconnect},
		{0, ActionDisconnect},
	}
	for _, c := range cases {
		action := recommendedAction(c.score)
		if action != c.want {
			t.Errorf("score %f: got %v want %v", c.score, action, c.want)
		}
	}
}

func TestMissedHeartbeatsDegradeRecommendation(t *testing.T) {
	cfg := DefaultConfig()
	tr := New(cfg, 30*time.Second)
	now := time.Unix(0, 0)

	// A handful of good samples establish a baseline, then heartbeats start
	// going missing, which pushes packet_loss up (10/13) and stability down
	// to 0.23. The 20ms latency and zero jitter still contribute 0.396, so
	// the score settles near 0.53: reduce_interval, not disconnect.
	for i := 0; i < 3; i++ {
		tr.RecordLatency(20, now)
		now = now.Add(time.Second)
	}

	var action Action
	for i := 0; i < 10; i++ {
		_, action = tr.RecordMissedHeartbeat(now)
		now = now.Add(time.Second)
	}

	if action != ActionReduceInterval {
		t.Fatalf("expected ActionReduceInterval after sustained missed heartbeats, got %v", action)
	}
}

func TestResetMissedClearsCounter(t *testing.T) {
	tr := New(DefaultConfig(), 30*time.Second)
	now := time.Unix(0, 0)
	tr.RecordMissedHeartbeat(now)
	tr.RecordMissedHeartbeat(now)
	tr.ResetMissed()
	snap := tr.Snapshot()
	if snap.MissedHeartbeats != 0 {
		t.Fatalf("expected missed count reset to 0, got %d", snap.MissedHeartbeats)
	}
}
