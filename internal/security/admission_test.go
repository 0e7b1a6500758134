package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// recordingAudit captures every reported rejection for assertion.
type recordingAudit struct {
	rejections []string
}

func (r *recordingAudit) RecordRejection(ctx context.Context, ip, reason, userAgent string) {
	r.rejections = append(r.rejections, reason)
}

func newUpgradeRequest(remoteAddr, ua string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = remoteAddr
	r.Header.Set("User-Agent", ua)
	return r
}

// TestGuardAdmitAllowsCleanRequest verifies a request with no ban, a normal
// user agent, and budget remaining is admitted.
func TestGuardAdmitAllowsCleanRequest(t *testing.T) {
	audit := &recordingAudit{}
	guard := NewGuard(NewLimiter(nil, 10), NewBanStore(nil), audit)

	decision := guard.Admit(context.Background(), newUpgradeRequest("203.0.113.1:5555", "Mozilla/5.0 Firefox/118.0"))
	if !decision.Allow {
		t.Fatalf("Admit() = %+v, want Allow=true", decision)
	}
	if len(audit.rejections) != 0 {
		t.Fatalf("audit recorded %d rejections for a clean request, want 0", len(audit.rejections))
	}
}

// TestGuardAdmitRejectsSuspiciousUserAgent verifies the UA check rejects and
// reports before the rate limiter is consulted.
func TestGuardAdmitRejectsSuspiciousUserAgent(t *testing.T) {
	audit := &recordingAudit{}
	guard := NewGuard(NewLimiter(nil, 10), NewBanStore(nil), audit)

	decision := guard.Admit(context.Background(), newUpgradeRequest("203.0.113.2:5555", "sqlmap/1.6"))
	if decision.Allow || decision.HTTPStatus != http.StatusForbidden {
		t.Fatalf("Admit() = %+v, want rejected with 403", decision)
	}
	if len(audit.rejections) != 1 {
		t.Fatalf("audit recorded %d rejections, want 1", len(audit.rejections))
	}
}

// TestGuardAdmitRejectsOverLimit verifies the rate-limit tier is still
// reached and enforced once the UA and ban checks pass.
func TestGuardAdmitRejectsOverLimit(t *testing.T) {
	audit := &recordingAudit{}
	limiter := NewLimiter(nil, 1) // burst of one: second request in the same window is denied
	guard := NewGuard(limiter, NewBanStore(nil), audit)

	req := newUpgradeRequest("203.0.113.3:5555", "Mozilla/5.0 Firefox/118.0")
	first := guard.Admit(context.Background(), req)
	if !first.Allow {
		t.Fatalf("first Admit() = %+v, want Allow=true", first)
	}
	second := guard.Admit(context.Background(), req)
	if second.Allow || second.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("second Admit() = %+v, want rejected with 429", second)
	}
	if len(audit.rejections) != 1 {
		t.Fatalf("audit recorded %d rejections, want 1", len(audit.rejections))
	}
}

// TestGuardAdmitNilAuditDoesNotPanic verifies a nil AuditSink is tolerated
// (audit persistence is optional per cmd/relaysockd's wiring).
func TestGuardAdmitNilAuditDoesNotPanic(t *testing.T) {
	guard := NewGuard(NewLimiter(nil, 10), NewBanStore(nil), nil)
	decision := guard.Admit(context.Background(), newUpgradeRequest("203.0.113.4:5555", "curl/8.4.0"))
	if !decision.Allow {
		t.Fatalf("Admit() = %+v, want Allow=true", decision)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := newUpgradeRequest("10.0.0.1:9999", "x")
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Fatalf("ClientIP() = %q, want %q", got, "198.51.100.7")
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := newUpgradeRequest("198.51.100.9:4444", "x")
	if got := ClientIP(r); got != "198.51.100.9" {
		t.Fatalf("ClientIP() = %q, want %q", got, "198.51.100.9")
	}
}
