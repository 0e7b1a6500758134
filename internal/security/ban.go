package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for the ban store, keyed by client IP instead of the
// teacher's chat fingerprint (spec §12 "per-IP keying for the security
// layer"). Adapted from internal/ban/store.go.
const (
	banPrefix    = "ban:ip:"
	offensePrefix = "ban:offenses:"

	ban15Min  = 15 * time.Minute
	ban1Hour  = 1 * time.Hour
	ban24Hour = 24 * time.Hour

	offensesTTL      = 24 * time.Hour
	autoBanThreshold = 3
)

// BanStore tracks banned client IPs and their escalating offense counts in
// Redis, matching the teacher's Store.
type BanStore struct {
	rdb *redis.Client
}

// NewBanStore creates a BanStore. rdb may be nil, in which case IsBanned
// always reports not-banned and Ban/ReportAndCheck are no-ops — used for deployments
// without Redis or in tests.
func NewBanStore(rdb *redis.Client) *BanStore {
	return &BanStore{rdb: rdb}
}

// IsBanned reports whether ip is currently banned, along with the remaining
// TTL and ban reason.
func (s *BanStore) IsBanned(ctx context.Context, ip string) (banned bool, remaining time.Duration, reason string, err error) {
	if s.rdb == nil {
		return false, 0, "", nil
	}
	key := banPrefix + ip
	reason, err = s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// Ban sets a ban on ip for the given duration.
func (s *BanStore) Ban(ctx context.Context, ip string, duration time.Duration, reason string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, banPrefix+ip, reason, duration).Err()
}

func escalationDuration(offenseCount int64) time.Duration {
	switch {
	case offenseCount <= 1:
		return ban15Min
	case offenseCount == 2:
		return ban1Hour
	default:
		return ban24Hour
	}
}

// ReportAndCheck increments ip's offense counter and auto-bans once
// autoBanThreshold is reached within offensesTTL. The ban lasts
// escalationDuration(count); because count is at least autoBanThreshold (3)
// whenever a ban is set, every auto-ban lasts 24h.
func (s *BanStore) ReportAndCheck(ctx context.Context, ip string, reason string) (banned bool, duration time.Duration, err error) {
	if s.rdb == nil {
		return false, 0, nil
	}
	key := offensePrefix + ip
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("security: offense incr: %w", err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, offensesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("security: offense expire: %w", err)
		}
	}
	if count >= autoBanThreshold {
		d := escalationDuration(count)
		if err := s.Ban(ctx, ip, d, reason); err != nil {
			return false, 0, fmt.Errorf("security: auto-ban: %w", err)
		}
		return true, d, nil
	}
	return false, 0, nil
}
