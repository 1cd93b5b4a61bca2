package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// PathCache is an in-memory path to id lookup cache.
// It is created once at startup and handed to the filesystem client,
// which owns its consistency.
type PathCache struct {
	items *ttlcache.Cache[string, int64]
}

// New creates a path cache with the specified TTL and max size
func New(ttl time.Duration, maxSize int) *PathCache {
	opts := []ttlcache.Option[string, int64]{
		ttlcache.WithTTL[string, int64](ttl),
	}
	if maxSize > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, int64](uint64(maxSize)))
	}

	c := &PathCache{
		items: ttlcache.New[string, int64](opts...),
	}

	// expired items are evicted in the background
	go c.items.Start()

	return c
}

// Close stops the background eviction loop
func (c *PathCache) Close() {
	c.items.Stop()
}

// Get returns the id cached for path
func (c *PathCache) Get(path string) (int64, bool) {
	item := c.items.Get(path)
	if item == nil || item.IsExpired() {
		return 0, false
	}
	return item.Value(), true
}

// Set caches the id for path using the default TTL
func (c *PathCache) Set(path string, id int64) {
	c.items.Set(path, id, ttlcache.DefaultTTL)
}

// Delete drops a single path
func (c *PathCache) Delete(path string) {
	c.items.Delete(path)
}

// Size returns the current size of the cache
func (c *PathCache) Size() int {
	return c.items.Len()
}
