package store

import (
	"sync"

	"github.com/wolfeidau/svdb"
)

// Cache holds whole objects keyed by object digest. Every access takes the
// one map lock. Entries are never evicted or invalidated: a backend value
// overwritten behind the engine's back is still served from the cache.
type Cache struct {
	mu      sync.Mutex
	entries map[svdb.Digest][]byte
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[svdb.Digest][]byte)}
}

// Get returns a copy of the cached object.
func (c *Cache) Get(d svdb.Digest) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[d]
	if !ok {
		return nil, false
	}
	return clone(data), true
}

// Put caches a private copy of data under d.
func (c *Cache) Put(d svdb.Digest, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d] = clone(data)
}

// Contains reports whether d is cached.
func (c *Cache) Contains(d svdb.Digest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[d]
	return ok
}

// Len returns the number of cached objects.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// clone copies data, keeping empty values non-nil.
func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
