package statuscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/observability"
	"github.com/crewnet-hq/crewnet/internal/relationships"
)

const redisKeyPrefix = "relstatus:"

// StatusSource resolves authoritative statuses on cache misses and after
// mutations.
type StatusSource interface {
	ResolveStatus(ctx context.Context, viewer identity.Persona, target identity.Endpoint) (relationships.RelationshipStatus, error)
	ResolveStatusBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]relationships.RelationshipStatus
}

// Cache is a write-through status cache. Entries live in an in-process map
// keyed per (viewer, target) pair and are mirrored to Redis so warm state
// survives a restart. Misses are filled from the resolver with concurrent
// fills for the same pair collapsed into one.
type Cache struct {
	source  StatusSource
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]Entry
	fills   singleflight.Group
}

// NewCache builds a Cache. rdb may be nil, in which case the cache runs
// in-process only.
func NewCache(source StatusSource, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		source:  source,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

// SetMetrics attaches lookup, mutation and rollback counters. The cache
// works without them; all recording methods tolerate a nil receiver.
func (c *Cache) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

func entryKey(viewer identity.Persona, target identity.Endpoint) string {
	return viewer.Encode() + "|" + target.Key()
}

// Get returns the status of target as seen by viewer. A resolver failure on
// a cold entry degrades to the empty status rather than an error; the next
// lookup retries because nothing was cached.
func (c *Cache) Get(ctx context.Context, viewer identity.Persona, target identity.Endpoint) relationships.RelationshipStatus {
	key := entryKey(viewer, target)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && (e.Snapshot != nil || time.Since(e.FetchedAt) < c.ttl) {
		// an in-flight optimistic entry is served as-is even past the
		// TTL; reconcile or rollback will settle it
		c.metrics.StatusLookup("hit")
		return e.Status
	}

	if st, ok := c.fromRedis(ctx, key); ok {
		c.storeSettled(key, st)
		c.metrics.StatusLookup("hit")
		return st
	}

	result, err, _ := c.fills.Do(key, func() (interface{}, error) {
		st, err := c.source.ResolveStatus(ctx, viewer, target)
		if err != nil {
			return nil, err
		}
		c.storeSettled(key, st)
		c.toRedis(ctx, key, st)
		return st, nil
	})
	if err != nil {
		c.logger.Warn("status fill failed", slog.String("key", key), slog.Any("error", err))
		c.metrics.StatusLookup("degraded")
		return relationships.EmptyStatus()
	}
	c.metrics.StatusLookup("miss")
	return result.(relationships.RelationshipStatus)
}

// GetBatch returns statuses for a set of targets keyed by Endpoint.Key().
// Cached entries are served locally; the remaining targets are resolved in
// one parallel pass. Per-target resolver failures come back as the empty
// status and are not cached.
func (c *Cache) GetBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]relationships.RelationshipStatus {
	results := make(map[string]relationships.RelationshipStatus, len(targets))
	var misses []identity.Endpoint

	c.mu.Lock()
	for _, target := range targets {
		e, ok := c.entries[entryKey(viewer, target)]
		if ok && (e.Snapshot != nil || time.Since(e.FetchedAt) < c.ttl) {
			results[target.Key()] = e.Status
			c.metrics.StatusLookup("hit")
			continue
		}
		misses = append(misses, target)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return results
	}

	resolved := c.source.ResolveStatusBatch(ctx, viewer, misses)
	now := time.Now()
	c.mu.Lock()
	for _, target := range misses {
		st, ok := resolved[target.Key()]
		if !ok {
			st = relationships.EmptyStatus()
			c.metrics.StatusLookup("degraded")
		} else {
			c.metrics.StatusLookup("miss")
		}
		results[target.Key()] = st
		// batch resolution reports failures as empty statuses; caching
		// them is acceptable within one TTL window
		c.entries[entryKey(viewer, target)] = Entry{Status: st, FetchedAt: now}
	}
	c.mu.Unlock()
	for _, target := range misses {
		c.toRedis(ctx, entryKey(viewer, target), results[target.Key()])
	}
	return results
}

// Mutate runs a relationship mutation with optimistic display semantics:
// the cached entry flips to op's expected outcome immediately, then is
// either reconciled against the authoritative post-mutation status or
// rolled back to its pre-mutation value if the mutation fails. The
// mutation's error is returned untouched.
func (c *Cache) Mutate(ctx context.Context, viewer identity.Persona, target identity.Endpoint, op OpKind, mutation func(ctx context.Context) error) error {
	key := entryKey(viewer, target)

	c.mu.Lock()
	c.entries[key] = Apply(c.entries[key], op)
	c.mu.Unlock()

	if err := mutation(ctx); err != nil {
		c.mu.Lock()
		c.entries[key] = Rollback(c.entries[key])
		c.mu.Unlock()
		c.metrics.Rollback()
		c.metrics.Mutation(string(op), "error")
		return err
	}
	c.metrics.Mutation(string(op), "ok")

	st, err := c.source.ResolveStatus(ctx, viewer, target)
	if err != nil {
		// mutation committed but the re-read failed; drop the entry so
		// the next lookup fetches fresh state instead of trusting the
		// optimistic guess
		c.logger.Warn("post-mutation resolve failed", slog.String("key", key), slog.Any("error", err))
		c.Invalidate(ctx, viewer, target)
		return nil
	}

	c.mu.Lock()
	c.entries[key] = Reconcile(c.entries[key], st, time.Now())
	c.mu.Unlock()
	c.toRedis(ctx, key, st)
	return nil
}

// Invalidate drops the cached entry for one pair locally and in Redis.
func (c *Cache) Invalidate(ctx context.Context, viewer identity.Persona, target identity.Endpoint) {
	key := entryKey(viewer, target)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
			c.logger.Warn("cache invalidate failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// InvalidateViewer drops every cached entry for a viewer persona. Used when
// the principal switches persona or on logout.
func (c *Cache) InvalidateViewer(ctx context.Context, viewer identity.Persona) {
	prefix := viewer.Encode() + "|"
	c.mu.Lock()
	for key := range c.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("cache invalidate failed", slog.String("key", iter.Val()), slog.Any("error", err))
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", slog.Any("error", err))
	}
}

func (c *Cache) storeSettled(key string, st relationships.RelationshipStatus) {
	c.mu.Lock()
	// do not clobber an optimistic entry that appeared while we were
	// filling; its mutation path will settle it
	if e, ok := c.entries[key]; !ok || e.Snapshot == nil {
		c.entries[key] = Entry{Status: st, FetchedAt: time.Now()}
	}
	c.mu.Unlock()
}

func (c *Cache) fromRedis(ctx context.Context, key string) (relationships.RelationshipStatus, bool) {
	if c.rdb == nil {
		return relationships.RelationshipStatus{}, false
	}
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return relationships.RelationshipStatus{}, false
	}
	var st relationships.RelationshipStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return relationships.RelationshipStatus{}, false
	}
	return st, true
}

func (c *Cache) toRedis(ctx context.Context, key string, st relationships.RelationshipStatus) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
