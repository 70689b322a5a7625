package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns the cached route and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

// Set stores a route in the cache.
func (c *Cache) Set(a, b models.Coord, v Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Cached decorates an Oracle with the cache.
type Cached struct {
	Inner Oracle
	Cache *Cache
}

func (c *Cached) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	if c.Cache != nil {
		if r, ok := c.Cache.Get(origin, dest); ok {
			return r, nil
		}
	}
	r, err := c.Inner.Route(ctx, origin, dest)
	if err != nil {
		return Route{}, err
	}
	if c.Cache != nil {
		c.Cache.Set(origin, dest, r)
	}
	return r, nil
}
