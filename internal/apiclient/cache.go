package apiclient

import "time"

// cacheEntry holds a raw GET response body.
type cacheEntry struct {
	payload  []byte
	storedAt time.Time
}

func (c *Client) cacheEnabled() bool {
	return c.cacheTTL > 0 && c.cacheMaxEntries > 0
}

// cacheGet returns an unexpired payload. Expired entries are dropped.
func (c *Client) cacheGet(key string) ([]byte, bool) {
	if !c.cacheEnabled() {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.cacheTTL {
		delete(c.cache, key)
		c.metrics.CacheEvicted("expired")
		c.metrics.SetCacheSize(len(c.cache))
		return nil, false
	}
	return entry.payload, true
}

// cachePut stores payload under key. When the cache is full the single
// oldest entry is evicted first; replacing an existing key never evicts.
// The size check, eviction and insert happen under one lock.
func (c *Client) cachePut(key string, payload []byte) {
	if !c.cacheEnabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; !exists && len(c.cache) >= c.cacheMaxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.cache {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(c.cache, oldestKey)
		c.metrics.CacheEvicted("capacity")
	}

	c.cache[key] = cacheEntry{payload: payload, storedAt: c.now()}
	c.metrics.SetCacheSize(len(c.cache))
}

// CacheLen returns the number of cached responses, expired ones included.
func (c *Client) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// InvalidateCache drops every cached response.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) == 0 {
		return
	}
	c.cache = make(map[string]cacheEntry)
	c.metrics.SetCacheSize(0)
}
