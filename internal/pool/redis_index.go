package pool

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns for the optional behavior-profile mirror, following
// the same "sorted-set + hash + TTL" shape the teacher's matching queue
// uses for its own Redis-backed indices.
const (
	keyBehaviorPrefix = "pool:behavior:"    // + <client_id> -> Hash
	keyLRUIndex       = "pool:lru"          // Sorted set, score = last_seen unix millis
	behaviorTTL       = 30 * 24 * time.Hour // profiles fade out a month after last use
)

// RedisMirror persists behavior profiles to Redis so reuse_rate and
// behavior_score survive a process restart. It never backs correctness —
// the in-memory Pool and BehaviorStore remain authoritative for every
// acquire/evict decision (spec §9 "Global state: None intended").
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror creates a RedisMirror backed by the given client.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

// Save writes p's behavior fields to Redis and updates the LRU sorted-set
// index that RecentClients reads to list the most recently active clients
// first. Errors are logged and swallowed — persistence here is advisory.
func (m *RedisMirror) Save(p Profile) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := keyBehaviorPrefix + p.ClientID
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"total_connections": p.TotalConnections,
		"total_requests":    p.TotalRequests,
		"reuse_rate":        fmt.Sprintf("%f", p.ReuseRate),
		"behavior_score":    fmt.Sprintf("%f", p.BehaviorScore),
		"last_seen":         p.LastSeen.UnixMilli(),
	})
	pipe.Expire(ctx, key, behaviorTTL)
	pipe.ZAdd(ctx, keyLRUIndex, redis.Z{Score: float64(p.LastSeen.UnixMilli()), Member: p.ClientID})

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("pool: redis mirror save failed for client=%s: %v", p.ClientID, err)
	}
}

// Load retrieves a persisted profile for clientID, or false if none exists.
func (m *RedisMirror) Load(ctx context.Context, clientID string) (Profile, bool) {
	key := keyBehaviorPrefix + clientID
	result, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil || len(result) == 0 {
		return Profile{}, false
	}

	p := Profile{ClientID: clientID}
	p.TotalConnections, _ = strconv.Atoi(result["total_connections"])
	p.TotalRequests, _ = strconv.Atoi(result["total_requests"])
	p.ReuseRate, _ = strconv.ParseFloat(result["reuse_rate"], 64)
	p.BehaviorScore, _ = strconv.ParseFloat(result["behavior_score"], 64)
	if ms, err := strconv.ParseInt(result["last_seen"], 10, 64); err == nil {
		p.LastSeen = time.UnixMilli(ms)
	}
	return p, true
}

// RecentClients returns the N most recently active client ids from the LRU
// index, most recent first — useful for warming a fresh BehaviorStore after
// a restart.
func (m *RedisMirror) RecentClients(ctx context.Context, n int64) ([]string, error) {
	return m.rdb.ZRevRange(ctx, keyLRUIndex, 0, n-1).Result()
}
