// Package cache provides a sharded in-memory TTL cache safe for concurrent
// readers and writers, with last-writer-wins semantics per key.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTLCache is a concurrent key-value store with per-entry expiry.
type TTLCache struct {
	shards [numShards]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// New creates an empty cache.
func New() *TTLCache {
	c := &TTLCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *TTLCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value under key with the given TTL. A zero TTL means no expiry.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
}

// Get retrieves a live value for key.
func (c *TTLCache) Get(key string) (any, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || e.expired() {
		return nil, false
	}
	return e.value, true
}

// GetOrCompute returns the cached value for key, or runs factory and caches
// its result for ttl. Factory errors are not cached.
func (c *TTLCache) GetOrCompute(key string, ttl time.Duration, factory func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes key from the cache.
func (c *TTLCache) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the number of entries across all shards, counting expired
// entries that have not been cleaned up yet.
func (c *TTLCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *TTLCache) Cleanup() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.expired() {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
