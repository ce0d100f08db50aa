package projection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/tuning"
	"github.com/talgya/crossworlds/internal/world"
)

// WorldSnapshot is the cached {tick, agents, resourceSpawns, shelters}
// projection, rebuilt lazily on read after invalidation (spec.md §4.3).
type WorldSnapshot struct {
	Tick           uint64                 `json:"tick"`
	Agents         []*agents.Agent        `json:"agents"`
	ResourceSpawns []world.ResourceSpawn  `json:"resourceSpawns"`
	Shelters       []world.Shelter        `json:"shelters"`
}

// SnapshotSource rebuilds a WorldSnapshot from the store on a cache miss.
type SnapshotSource func(ctx context.Context) (WorldSnapshot, error)

// Cache holds the recent-events projection and the lazily rebuilt world
// snapshot. It prefers an external Redis instance when configured and
// falls back to an in-process store — the engine runs correctly stand-
// alone, with Redis purely as a shared/multi-process acceleration layer.
//
// Grounded on the ambient stack's go-redis/redis/v8 client (sourced from
// the r3e-network-service_layer example's dependency set, since the
// teacher repo has no external cache of its own); the in-process fallback
// path is a plain sync.Mutex-guarded slice, matching the teacher's
// Simulation.Events ring-buffer style (internal/engine/simulation.go).
type Cache struct {
	redis *redis.Client

	mu            sync.Mutex
	recentEvents  []eventlog.Event
	recentLimit   int
	snapshot      *WorldSnapshot
	snapshotValid bool
	llmResponses  map[string][]byte
	genesisCache  map[string][]byte
}

// NewCache constructs a cache. redisClient may be nil, in which case the
// cache runs entirely in-process.
func NewCache(redisClient *redis.Client) *Cache {
	return &Cache{
		redis:        redisClient,
		recentLimit:  tuning.DefaultRecentEventsLimit,
		llmResponses: make(map[string][]byte),
		genesisCache: make(map[string][]byte),
	}
}

// SetRecentLimit overrides the bounded recent-events list size (default
// 100, capped at tuning.MaxRecentEventsLimit).
func (c *Cache) SetRecentLimit(limit int) {
	if limit <= 0 || limit > tuning.MaxRecentEventsLimit {
		limit = tuning.MaxRecentEventsLimit
	}
	c.mu.Lock()
	c.recentLimit = limit
	c.mu.Unlock()
}

// OnEventAppended pushes e onto the bounded recent-events projection and
// invalidates the world snapshot — every entity mutation invalidates it
// (spec.md §4.3).
func (c *Cache) OnEventAppended(ctx context.Context, e eventlog.Event) {
	c.mu.Lock()
	c.recentEvents = append([]eventlog.Event{e}, c.recentEvents...)
	if len(c.recentEvents) > c.recentLimit {
		c.recentEvents = c.recentEvents[:c.recentLimit]
	}
	c.snapshotValid = false
	c.mu.Unlock()

	if c.redis != nil {
		body, err := json.Marshal(e)
		if err == nil {
			c.redis.LPush(ctx, "projection:recent-events", body)
			c.redis.LTrim(ctx, "projection:recent-events", 0, int64(c.recentLimit-1))
		}
	}
}

// RecentEvents returns the bounded, newest-first recent-events projection.
func (c *Cache) RecentEvents() []eventlog.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eventlog.Event, len(c.recentEvents))
	copy(out, c.recentEvents)
	return out
}

// Snapshot returns the cached world snapshot, rebuilding it via source on
// a miss (invalidated or never populated).
func (c *Cache) Snapshot(ctx context.Context, source SnapshotSource) (WorldSnapshot, error) {
	c.mu.Lock()
	if c.snapshotValid && c.snapshot != nil {
		snap := *c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	snap, err := source(ctx)
	if err != nil {
		return WorldSnapshot{}, err
	}

	c.mu.Lock()
	c.snapshot = &snap
	c.snapshotValid = true
	c.mu.Unlock()
	return snap, nil
}

// Invalidate marks the world snapshot stale without rebuilding it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshotValid = false
	c.mu.Unlock()
}

// Clear wipes all cached projections. Must run before initWorldState on a
// reset, to avoid stale reads (spec.md §4.3).
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.recentEvents = nil
	c.snapshot = nil
	c.snapshotValid = false
	c.llmResponses = make(map[string][]byte)
	c.genesisCache = make(map[string][]byte)
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, "projection:recent-events")
	}
}

// LLMResponseEntry is a cached LLM decision keyed by (policyType,
// observation fingerprint), write-through with a long TTL (spec.md §4.4).
type LLMResponseEntry struct {
	DecisionJSON []byte    `json:"decisionJson"`
	CachedAt     time.Time `json:"cachedAt"`
}

// PutLLMResponse writes-through a decision to Redis when configured, and
// always mirrors it into the in-process map so a single-process run
// without Redis still satisfies the cache-reuse guarantee (spec.md §8
// scenario 6) instead of silently never caching.
func (c *Cache) PutLLMResponse(ctx context.Context, policyType, fingerprint string, decisionJSON []byte) error {
	key := "llm-cache:" + policyType + ":" + fingerprint

	c.mu.Lock()
	c.llmResponses[key] = decisionJSON
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	ttl := time.Duration(tuning.LLMResponseCacheTTLDays) * 24 * time.Hour
	return c.redis.Set(ctx, key, decisionJSON, ttl).Err()
}

// GetLLMResponse returns a cached decision, or (nil, false) on a miss.
// Checks Redis first when configured, falling back to the in-process map
// (which Redis-backed deployments also populate, so a miss there is
// authoritative).
func (c *Cache) GetLLMResponse(ctx context.Context, policyType, fingerprint string) ([]byte, bool) {
	key := "llm-cache:" + policyType + ":" + fingerprint

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			return val, true
		}
	}

	c.mu.Lock()
	val, ok := c.llmResponses[key]
	c.mu.Unlock()
	return val, ok
}

// PutGenesisResult write-throughs a genesis generator's output under a
// configurable key prefix, so repeated world starts from the same seed
// reuse an LLM-generated agent roster instead of re-querying (spec.md §6
// KV layout, "genesis-cache:<policyType>:<hash>"). Mirrors into the
// in-process map like PutLLMResponse, for the same no-Redis-required
// reason.
func (c *Cache) PutGenesisResult(ctx context.Context, prefix, key string, ttl time.Duration, payload []byte) error {
	full := prefix + ":" + key

	c.mu.Lock()
	c.genesisCache[full] = payload
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	return c.redis.Set(ctx, full, payload, ttl).Err()
}

// GetGenesisResult returns a cached genesis result, or (nil, false) on a
// miss.
func (c *Cache) GetGenesisResult(ctx context.Context, prefix, key string) ([]byte, bool) {
	full := prefix + ":" + key

	if c.redis != nil {
		val, err := c.redis.Get(ctx, full).Bytes()
		if err == nil {
			return val, true
		}
	}

	c.mu.Lock()
	val, ok := c.genesisCache[full]
	c.mu.Unlock()
	return val, ok
}
