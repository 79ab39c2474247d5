// internal/cache/cache.go
//
// Process-wide keyed cache with region isolation.
//
// Context
// -------
// Every cached value lives under a (region, key) pair.  Regions partition
// namespaces, typically one per entity type, so evicting "User"/"42" can
// never disturb "Blog"/"42".  The entity layer is the main client, but
// ad-hoc callers (throttle buckets, view-existence checks) use the same
// facade.
//
// Read-through loads go through a singleflight.Group, so a cold key being
// hammered by many requests triggers a single loader call.  Loader errors
// propagate to every waiter; nothing is cached on error.  A loader that
// returns nil may still be cached (as an absent marker) when the caller
// asks for it, which stops repeated miss storms on ids that do not exist.
//
// Notes
// -----
// • Safe for concurrent use from many requests.
// • Oxford commas, two spaces after periods.
package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/strandweb/strand/internal/metrics"
)

// absent is the sentinel stored when a loader returned nil and the caller
// asked to cache that outcome.  It must never escape the facade.
type absent struct{}

// Loader produces the value for a missing key.  It runs at most once per
// concurrent burst for a given (region, key).
type Loader func() (any, error)

// Cache is the region-isolated facade.  Zero value is unusable; construct
// with New.
type Cache struct {
	mu      sync.RWMutex
	regions map[string]map[string]any
	sfg     singleflight.Group
}

// New returns an empty, ready-to-use Cache.
func New() *Cache {
	return &Cache{regions: make(map[string]map[string]any)}
}

// Get returns the value stored under (region, key).  ok is false on a
// miss.  A cached absent marker reports (nil, true): the key is known to
// hold "no value", which is distinct from never having been loaded.
func (c *Cache) Get(region, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.regions[region]
	if !ok {
		metrics.CacheMissTotal.Inc()
		return nil, false
	}
	v, ok := r[key]
	if !ok {
		metrics.CacheMissTotal.Inc()
		return nil, false
	}
	metrics.CacheHitTotal.Inc()
	if _, isAbsent := v.(absent); isAbsent {
		return nil, true
	}
	return v, true
}

// GetOrLoad returns the cached value or runs loader on a miss.  When
// cacheAbsent is true a nil loader result is cached as an absent marker;
// otherwise nil results are returned but not stored.  Loader errors are
// returned to the caller unwrapped and leave the cache untouched.
func (c *Cache) GetOrLoad(region, key string, loader Loader, cacheAbsent bool) (any, error) {
	if v, ok := c.Get(region, key); ok {
		return v, nil
	}

	v, err, _ := c.sfg.Do(region+"\x00"+key, func() (any, error) {
		// Double-check after the singleflight barrier.
		if v, ok := c.Get(region, key); ok {
			return v, nil
		}
		v, err := loader()
		if err != nil {
			return nil, err
		}
		if v == nil {
			if cacheAbsent {
				c.set(region, key, absent{})
			}
			return nil, nil
		}
		c.set(region, key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores value under (region, key), replacing any previous entry.
func (c *Cache) Set(region, key string, value any) {
	if value == nil {
		c.set(region, key, absent{})
		return
	}
	c.set(region, key, value)
}

func (c *Cache) set(region, key string, value any) {
	c.mu.Lock()
	r, ok := c.regions[region]
	if !ok {
		r = make(map[string]any)
		c.regions[region] = r
	}
	r[key] = value
	c.mu.Unlock()
}

// Evict removes the entry for (region, key).  Missing entries are a no-op.
func (c *Cache) Evict(region, key string) {
	c.mu.Lock()
	if r, ok := c.regions[region]; ok {
		delete(r, key)
	}
	c.mu.Unlock()
}

// EvictRegion drops every entry in region.
func (c *Cache) EvictRegion(region string) {
	c.mu.Lock()
	delete(c.regions, region)
	c.mu.Unlock()
}

// Len reports the number of live entries in region.  Used by tests and
// the debug endpoint.
func (c *Cache) Len(region string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regions[region])
}
