package security

import (
	"context"
	"net/http"
	"strings"
)

// Decision is the outcome of an upgrade admission check.
type Decision struct {
	Allow      bool
	HTTPStatus int
	Reason     string // machine-readable: "banned", "suspicious_ua" or "rate_limited"
}

// AuditSink receives a record of every rejected admission for
// operator-facing audit persistence (spec §12 "audit trail", distinct from
// the forbidden "session persistence" non-goal). internal/audit implements
// this; defined here, not there, so security has no dependency on storage.
type AuditSink interface {
	RecordRejection(ctx context.Context, ip, reason, userAgent string)
}

// Guard is the upgrade admission gate consulted by the transport server
// before any WebSocket upgrade completes.
type Guard struct {
	limiter *Limiter
	bans    *BanStore
	audit   AuditSink
}

// NewGuard creates a Guard. audit may be nil to skip audit persistence.
func NewGuard(limiter *Limiter, bans *BanStore, audit AuditSink) *Guard {
	return &Guard{limiter: limiter, bans: bans, audit: audit}
}

// Admit runs the full admission pipeline for an incoming upgrade request:
// ban check, user-agent heuristic, then rate limit. The first failing check
// wins and is reported both in the Decision and, for bans/rate-limits/UA
// rejections, to the audit sink.
func (g *Guard) Admit(ctx context.Context, r *http.Request) Decision {
	ip := ClientIP(r)
	ua := r.UserAgent()

	if g.bans != nil {
		if banned, _, reason, err := g.bans.IsBanned(ctx, ip); err == nil && banned {
			g.reportRejection(ctx, ip, "banned:"+reason, ua)
			return Decision{Allow: false, HTTPStatus: http.StatusForbidden, Reason: "banned"}
		}
	}

	if reason := CheckUserAgent(ua); reason != "" {
		g.reportRejection(ctx, ip, "suspicious_ua:"+reason, ua)
		return Decision{Allow: false, HTTPStatus: http.StatusForbidden, Reason: "suspicious_ua"}
	}

	if g.limiter != nil && !g.limiter.Allow(ctx, ip, RuleConnect) {
		g.reportRejection(ctx, ip, "rate_limited", ua)
		if g.bans != nil {
			g.bans.ReportAndCheck(ctx, ip, "connect_rate_limit")
		}
		return Decision{Allow: false, HTTPStatus: http.StatusTooManyRequests, Reason: "rate_limited"}
	}

	return Decision{Allow: true}
}

func (g *Guard) reportRejection(ctx context.Context, ip, reason, ua string) {
	if g.audit != nil {
		g.audit.RecordRejection(ctx, ip, reason, ua)
	}
}

// ClientIP extracts the originating IP from X-Forwarded-For (first hop) or
// RemoteAddr, matching the load-balanced deployment the teacher assumes
// (HAProxy in front of the WebSocket server).
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
