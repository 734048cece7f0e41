// Package cache implements a sharded, TTL-expiring answer cache keyed
// by packet.HashQuery, sitting in front of the resolver's network
// path. It carries no goroutines of its own — spec §5 forbids a
// resolver handle from spawning internal threads/timers — so expiry is
// evaluated against a caller-supplied time (Get and Sweep take now),
// typically read from the resolver's clock.Clock, the same pattern
// internal/random's PortPool uses.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Number of shards - power of 2 for fast modulo via bitmasking
	defaultShardCount = 256

	// Default cache size per shard
	defaultShardSize = 10000
)

// Entry represents a cached DNS response
type Entry struct {
	// Wire format response
	Data []byte

	// Expiration tracking
	ExpiresAt time.Time
	OrigTTL   uint32

	// Statistics (atomic for lock-free updates)
	Hits atomic.Uint64

	// Query metadata
	QName  string
	QType  uint16
	QClass uint16
}

// IsExpired checks if entry has expired as of now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IsStale checks if entry is within serve-stale window as of now.
func (e *Entry) IsStale(now time.Time, maxStale time.Duration) bool {
	if !e.IsExpired(now) {
		return false
	}
	return now.Sub(e.ExpiresAt) < maxStale
}

// shard represents a single cache shard with its own lock
type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry // Keyed by hash
	maxSize int
}

// ShardedCache implements a thread-safe, lock-contention-free cache
// using sharding to distribute load across multiple locks
type ShardedCache struct {
	shards []*shard

	// Configuration
	shardCount int
	shardMask  uint64 // For fast modulo: hash & mask

	// Serve stale configuration
	serveStale    bool
	maxStaleTTL   time.Duration
	staleRefresh  bool

	// Statistics (atomic for lock-free access)
	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	expirations atomic.Uint64
}

// Config holds cache configuration
type Config struct {
	// Total cache size (distributed across shards)
	MaxEntries int

	// Number of shards (default 256)
	ShardCount int

	// Serve stale configuration
	ServeStale   bool
	MaxStaleTTL  time.Duration
	StaleRefresh bool // Stored on the cache; the cache itself never triggers a refresh
}

// NewShardedCache creates a new sharded cache
func NewShardedCache(cfg Config) *ShardedCache {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = defaultShardCount
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaultShardSize * cfg.ShardCount
	}

	// Ensure shard count is power of 2
	if cfg.ShardCount&(cfg.ShardCount-1) != 0 {
		// Round up to next power of 2
		n := 1
		for n < cfg.ShardCount {
			n <<= 1
		}
		cfg.ShardCount = n
	}

	shardSize := cfg.MaxEntries / cfg.ShardCount

	c := &ShardedCache{
		shards:       make([]*shard, cfg.ShardCount),
		shardCount:   cfg.ShardCount,
		shardMask:    uint64(cfg.ShardCount - 1),
		serveStale:   cfg.ServeStale,
		maxStaleTTL:  cfg.MaxStaleTTL,
		staleRefresh: cfg.StaleRefresh,
	}

	// Initialize shards
	for i := 0; i < cfg.ShardCount; i++ {
		c.shards[i] = &shard{
			entries: make(map[uint64]*Entry, shardSize),
			maxSize: shardSize,
		}
	}

	return c
}

// getShard returns the shard for a given hash
// Uses bitmasking for fast modulo operation
func (c *ShardedCache) getShard(hash uint64) *shard {
	return c.shards[hash&c.shardMask]
}

// Get retrieves an entry from cache, evaluating expiry against now.
func (c *ShardedCache) Get(now time.Time, hash uint64) (*Entry, bool) {
	shard := c.getShard(hash)

	shard.mu.RLock()
	entry, ok := shard.entries[hash]
	shard.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	// Check expiration
	if entry.IsExpired(now) {
		if !c.serveStale {
			c.misses.Add(1)
			return nil, false
		}

		// Check if within serve-stale window
		if !entry.IsStale(now, c.maxStaleTTL) {
			c.misses.Add(1)
			return nil, false
		}

		// Serve stale but increment miss counter
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}

	entry.Hits.Add(1)
	return entry, true
}

// Set stores an entry in cache.
func (c *ShardedCache) Set(hash uint64, entry *Entry) {
	shard := c.getShard(hash)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Check if we need to evict
	if len(shard.entries) >= shard.maxSize {
		// Evict the entry with the earliest expiry (not LRU: hits
		// and access time play no part)
		c.evictOldest(shard)
	}

	shard.entries[hash] = entry
}

// Delete removes an entry from cache
func (c *ShardedCache) Delete(hash uint64) {
	shard := c.getShard(hash)

	shard.mu.Lock()
	delete(shard.entries, hash)
	shard.mu.Unlock()
}

// evictOldest removes the entry with the earliest ExpiresAt from a
// shard (must hold lock)
func (c *ShardedCache) evictOldest(s *shard) {
	var oldestHash uint64
	var oldestTime time.Time
	first := true

	for hash, entry := range s.entries {
		if first || entry.ExpiresAt.Before(oldestTime) {
			oldestHash = hash
			oldestTime = entry.ExpiresAt
			first = false
		}
	}

	if !first {
		delete(s.entries, oldestHash)
		c.evictions.Add(1)
	}
}

// Flush clears all entries from cache
func (c *ShardedCache) Flush() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[uint64]*Entry, shard.maxSize)
		shard.mu.Unlock()
	}
}

// Sweep removes entries expired as of now from every shard. Callers
// invoke this explicitly (e.g. once per top-level resolve, or from a
// caller-owned ticker) rather than this package running its own timer.
func (c *ShardedCache) Sweep(now time.Time) {
	for _, shard := range c.shards {
		shard.mu.Lock()

		var expired []uint64
		for hash, entry := range shard.entries {
			if c.serveStale {
				// Only remove if beyond serve-stale window
				if entry.IsExpired(now) && !entry.IsStale(now, c.maxStaleTTL) {
					expired = append(expired, hash)
				}
			} else if entry.IsExpired(now) {
				expired = append(expired, hash)
			}
		}

		for _, hash := range expired {
			delete(shard.entries, hash)
			c.expirations.Add(1)
		}

		shard.mu.Unlock()
	}
}

// Stats returns cache statistics
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	HitRate     float64
}

// GetStats returns current cache statistics
func (c *ShardedCache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	// Count total entries across all shards
	size := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		size += len(shard.entries)
		shard.mu.RUnlock()
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        size,
		HitRate:     hitRate,
	}
}

// ForEach iterates over all cache entries (for debugging/monitoring)
// WARNING: This locks all shards sequentially, use sparingly
func (c *ShardedCache) ForEach(fn func(hash uint64, entry *Entry)) {
	for _, shard := range c.shards {
		shard.mu.RLock()
		for hash, entry := range shard.entries {
			fn(hash, entry)
		}
		shard.mu.RUnlock()
	}
}
