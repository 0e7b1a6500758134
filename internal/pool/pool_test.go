package pool

import (
	"testing"
	"time"
)

func TestAcquireCreatesUnderCapacity(t *testing.T) {
	p := New(Config{MaxConnections: 3, DefaultIdle: 120 * time.Second, MinIdle: 30 * time.Second, MaxIdle: 300 * time.Second}, nil, nil)
	now := time.Unix(0, 0)

	outcome, e := p.Acquire("A", now)
	if outcome != OutcomeCreated {
		t.Fatalf("expected OutcomeCreated, got %v", outcome)
	}
	if !e.IsActive {
		t.Fatal("expected new entry to be active")
	}
}

func TestAcquireReusesActiveEntry(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	now := time.Unix(0, 0)

	p.Acquire("A", now)
	outcome, _ := p.Acquire("A", now.Add(time.Second))
	if outcome != OutcomeReused {
		t.Fatalf("expected OutcomeReused, got %v", outcome)
	}
	stats := p.Stats()
	if stats.Hits != 1 || stats.ReusedConnections != 1 {
		t.Fatalf("expected 1 hit/reuse, got hits=%d reused=%d", stats.Hits, stats.ReusedConnections)
	}
}

// TestLRUEvictionUnderPressure mirrors spec scenario S5: with
// max_connections=3, acquiring A, B, C then idling all three, touching A
// (making it MRU), a new acquire for D must evict B — the oldest idle
// entry among the remaining idles.
func TestLRUEvictionUnderPressure(t *testing.T) {
	p := New(Config{MaxConnections: 3, DefaultIdle: 120 * time.Second, MinIdle: 30 * time.Second, MaxIdle: 300 * time.Second}, nil, nil)

	t0 := time.Unix(1000, 0)
	p.Acquire("A", t0)
	p.Acquire("B", t0.Add(1*time.Second))
	p.Acquire("C", t0.Add(2*time.Second))

	p.MarkIdle("A", t0.Add(3*time.Second))
	p.MarkIdle("B", t0.Add(4*time.Second))
	p.MarkIdle("C", t0.Add(5*time.Second))

	// Touch A via reuse; it becomes idle->active then idle again at a later
	// timestamp, making it MRU among the idles.
	p.Acquire("A", t0.Add(6*time.Second))
	p.MarkIdle("A", t0.Add(7*time.Second))

	outcome, _ := p.Acquire("D", t0.Add(8*time.Second))
	if outcome != OutcomeCreated {
		t.Fatalf("expected D to be created, got %v", outcome)
	}
	if _, ok := p.Get("B"); ok {
		t.Fatal("expected B to have been evicted as the LRU idle entry")
	}
	if _, ok := p.Get("A"); !ok {
		t.Fatal("expected A (recently touched) to survive eviction")
	}
	if _, ok := p.Get("C"); !ok {
		t.Fatal("expected C to survive eviction")
	}
	if _, ok := p.Get("D"); !ok {
		t.Fatal("expected D to have been created")
	}

	stats := p.Stats()
	if stats.ForcedCloses != 1 {
		t.Fatalf("expected exactly 1 forced close, got %d", stats.ForcedCloses)
	}
}

// TestSaturationWithNoIdleEntriesFails covers testable property 9: under
// pool saturation with zero idle entries, acquire fails and no active
// entry is closed.
func TestSaturationWithNoIdleEntriesFails(t *testing.T) {
	p := New(Config{MaxConnections: 2, DefaultIdle: 120 * time.Second, MinIdle: 30 * time.Second, MaxIdle: 300 * time.Second}, nil, nil)
	now := time.Unix(0, 0)

	p.Acquire("A", now)
	p.Acquire("B", now)

	outcome, e := p.Acquire("C", now)
	if outcome != OutcomeFailure {
		t.Fatalf("expected OutcomeFailure, got %v", outcome)
	}
	if e != nil {
		t.Fatal("expected nil entry on failure")
	}
	if _, ok := p.Get("A"); !ok {
		t.Fatal("A must not have been closed")
	}
	if _, ok := p.Get("B"); !ok {
		t.Fatal("B must not have been closed")
	}
}

func TestAdaptiveTimeoutTiers(t *testing.T) {
	cfg := DefaultConfig()
	bs := NewBehaviorStore()
	now := time.Unix(0, 0)

	if got := bs.AdaptiveTimeout("unknown", cfg); got != 10*time.Second {
		t.Fatalf("unknown client: got %v want 10s", got)
	}

	// Drive reuse_rate above 0.8 with many reuses per connection.
	bs.RecordNewConnection("hi-reuse", now)
	for i := 0; i < 20; i++ {
		bs.RecordReuse("hi-reuse", now)
	}
	if got := bs.AdaptiveTimeout("hi-reuse", cfg); got != 2*cfg.DefaultIdle {
		t.Fatalf("high-reuse client: got %v want %v", got, 2*cfg.DefaultIdle)
	}

	bs.RecordNewConnection("low-reuse", now)
	if got := bs.AdaptiveTimeout("low-reuse", cfg); got != maxDuration(cfg.DefaultIdle/2, cfg.MinIdle) {
		t.Fatalf("low-reuse client: got %v want %v", got, maxDuration(cfg.DefaultIdle/2, cfg.MinIdle))
	}
}

func TestOptimizationAdvisorScoreRange(t *testing.T) {
	stats := Stats{Hits: 80, TotalRequests: 100, Size: 70}
	adv := Advise(stats, 100, 0.6)
	if adv.Score < 0 || adv.Score > 1 {
		t.Fatalf("advisor score out of [0,1]: %f", adv.Score)
	}
}
