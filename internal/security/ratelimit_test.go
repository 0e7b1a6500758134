package security

import (
	"context"
	"testing"
	"time"
)

// TestLimiterLocalBucketAllowsBurstThenBlocks exercises the in-process token
// bucket in isolation (nil Redis client, matching single-instance
// deployments per NewLimiter's doc comment).
func TestLimiterLocalBucketAllowsBurstThenBlocks(t *testing.T) {
	l := NewLimiter(nil, 3)
	rule := Rule{Key: "rl:test:", Limit: 60, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "1.2.3.4", rule) {
			t.Fatalf("request %d: expected allow within burst", i)
		}
	}
	if l.Allow(context.Background(), "1.2.3.4", rule) {
		t.Fatal("expected deny once burst is exhausted and redis is nil")
	}
}

// TestLimiterKeysAreIndependentPerClient verifies one client's budget never
// borrows from another's bucket.
func TestLimiterKeysAreIndependentPerClient(t *testing.T) {
	l := NewLimiter(nil, 1)
	rule := Rule{Key: "rl:test:", Limit: 60, Window: time.Minute}

	if !l.Allow(context.Background(), "client-a", rule) {
		t.Fatal("expected client-a's first request to be allowed")
	}
	if l.Allow(context.Background(), "client-a", rule) {
		t.Fatal("expected client-a's second request to be denied (burst=1)")
	}
	if !l.Allow(context.Background(), "client-b", rule) {
		t.Fatal("expected client-b's first request to be allowed independently")
	}
}

// TestNewLimiterDefaultsBurst checks the non-positive-burst guard.
func TestNewLimiterDefaultsBurst(t *testing.T) {
	l := NewLimiter(nil, 0)
	if l.burst != 5 {
		t.Fatalf("burst = %d, want default 5", l.burst)
	}
	l = NewLimiter(nil, -1)
	if l.burst != 5 {
		t.Fatalf("burst = %d, want default 5 for negative input", l.burst)
	}
}
