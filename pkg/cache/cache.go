// Package cache implements the two-tier result cache used by the decision
// engine: an in-process TTL map backed by an optional Redis tier. Reads hit
// memory first and backfill it from Redis; writes go to both tiers.
// Redis failures degrade to memory-only operation and are never surfaced
// to callers.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	val     []byte
	expires time.Time
}

// Cache is a namespaced byte cache. Values are stored as raw bytes so both
// tiers hold identical representations and a hit from either tier returns
// byte-identical content.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	order   []string // insertion order for size-bound eviction
	maxSize int

	rdb *redis.Client // nil = memory-only

	hits   int64
	misses int64
}

// New creates a Cache with the given in-process capacity. rdb may be nil,
// in which case the cache is memory-only.
func New(maxSize int, rdb *redis.Client) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]entry, maxSize),
		maxSize: maxSize,
		rdb:     rdb,
	}
}

func cacheKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the cached value for the namespaced key, or false if absent
// or expired. A Redis hit backfills the memory tier.
func (c *Cache) Get(ctx context.Context, namespace, key string, ttl time.Duration) ([]byte, bool) {
	k := cacheKey(namespace, key)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		if time.Now().Before(e.expires) {
			c.hits++
			c.mu.Unlock()
			return e.val, true
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()

	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, k).Bytes()
		if err == nil {
			c.storeMemory(k, val, ttl)
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			return val, true
		}
		if err != redis.Nil {
			log.Printf("[WARN] cache: redis get failed for %s: %v", k, err)
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set stores the value in both tiers with the given TTL.
func (c *Cache) Set(ctx context.Context, namespace, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	k := cacheKey(namespace, key)
	c.storeMemory(k, val, ttl)

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, k, val, ttl).Err(); err != nil {
			log.Printf("[WARN] cache: redis set failed for %s: %v", k, err)
		}
	}
}

// Delete removes the namespaced key from both tiers.
func (c *Cache) Delete(ctx context.Context, namespace, key string) {
	k := cacheKey(namespace, key)

	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, k).Err(); err != nil {
			log.Printf("[WARN] cache: redis delete failed for %s: %v", k, err)
		}
	}
}

func (c *Cache) storeMemory(k string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists {
		c.order = append(c.order, k)
	}
	c.entries[k] = entry{val: val, expires: time.Now().Add(ttl)}

	// Evict oldest entries once over capacity. Expired entries are pruned
	// first so a full cache of stale values does not push out fresh ones.
	for len(c.entries) > c.maxSize && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		if victim == k {
			c.order = append(c.order, victim)
			continue
		}
		delete(c.entries, victim)
	}
}

// Stats reports counters for the health endpoint.
type Stats struct {
	Entries      int   `json:"entries"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	RedisEnabled bool  `json:"redis_enabled"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:      len(c.entries),
		Hits:         c.hits,
		Misses:       c.misses,
		RedisEnabled: c.rdb != nil,
	}
}

// Connect dials Redis at addr and returns a client if the server responds
// to PING within two seconds. Returns nil (memory-only mode) on any failure.
func Connect(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[WARN] cache: redis unreachable at %s, falling back to memory-only: %v", addr, err)
		_ = rdb.Close()
		return nil
	}
	log.Printf("[STARTUP] ✓ Redis cache tier connected (%s)", addr)
	return rdb
}
