package acl

import (
	"hash/fnv"
	"sync"
)

// shardIndex maps a subject key onto a fixed bucket range. Used for the
// cache's eviction generations and the engine's write locks so per-subject
// state stays bounded regardless of fleet size.
func shardIndex(key string, buckets int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(buckets))
}

// Cache holds recently loaded ACE lists in front of the persistent store,
// keyed by subject identity. It is read-mostly; writes replace whole entries
// atomically under the lock so a reader never observes a half-updated list.
// The cache is never authoritative: a miss always falls through to the store.
//
// Fills race evictions: a loader that read the store just before an ACL write
// must not re-install the pre-write list after the writer evicted. Each Put
// therefore carries the generation observed before the store read and is
// dropped when an eviction has bumped it since. Generations are sharded by
// key hash; a collision only drops an unrelated fill, never serves stale
// data.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	gens    [256]uint64
}

// NewCache builds an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]Entry)}
}

// Get returns the cached ACE list for the subject key.
func (c *Cache) Get(key string) ([]Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.entries[key]
	return entries, ok
}

// Generation returns the eviction generation for the subject key. Loaders
// snapshot it before reading the store and pass it back to Put.
func (c *Cache) Generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[shardIndex(key, len(c.gens))]
}

// Put stores the ACE list for the subject key, unless an eviction happened
// since gen was observed, and reports whether the list was stored. The list
// is copied so later mutation by the caller cannot corrupt cached state.
func (c *Cache) Put(key string, entries []Entry, gen uint64) bool {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[shardIndex(key, len(c.gens))] != gen {
		return false
	}
	c.entries[key] = copied
	return true
}

// Evict drops the subject key and invalidates in-flight fills for it. Every
// ACL write path evicts before returning so the next check reads fresh data.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	c.gens[shardIndex(key, len(c.gens))]++
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of cached subjects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
