package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// mirrorPrefix is the Redis key prefix for mirrored session metadata.
	mirrorPrefix = "session:meta:"

	// mirrorTTL bounds how long a mirrored record survives past its last
	// touch — generous relative to session_timeout so an operator querying
	// Redis directly still finds recently-expired sessions for a while.
	mirrorTTL = 1 * time.Hour
)

// RedisMirror persists lightweight session status metadata (state,
// connected_at, last_heartbeat) to Redis so an external dashboard or a
// second process can observe session state without talking to the
// in-process Manager. It never backs any correctness decision — the
// Manager's in-memory maps remain authoritative (spec §9 "Global state:
// None intended"); adapted from the teacher's session store
// (internal/session/store.go in the original tree).
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror creates a RedisMirror backed by the given client.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

// Touch records id's current state and timestamps, refreshing the TTL.
func (m *RedisMirror) Touch(ctx context.Context, id string, state State, connectedAt, lastHeartbeat time.Time) error {
	key := mirrorPrefix + id
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":          state.String(),
		"connected_at":   connectedAt.UnixMilli(),
		"last_heartbeat": lastHeartbeat.UnixMilli(),
	})
	pipe.Expire(ctx, key, mirrorTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("session: redis mirror touch failed for id=%s: %w", id, err)
	}
	return nil
}

// Remove deletes id's mirrored record, e.g. after expiry or explicit
// disconnect.
func (m *RedisMirror) Remove(ctx context.Context, id string) error {
	return m.rdb.Del(ctx, mirrorPrefix+id).Err()
}
