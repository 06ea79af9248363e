package bridge

import "sync"

// discoveryCache memoizes discovery tool results. The catalog is
// immutable for the life of the process, so entries never expire;
// call_api results are live data and are never cached.
type discoveryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func newDiscoveryCache() *discoveryCache {
	return &discoveryCache{entries: make(map[string]string)}
}

func (c *discoveryCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *discoveryCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}
