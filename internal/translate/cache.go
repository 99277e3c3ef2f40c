package translate

import "sync"

const (
	defaultCacheSize = 1000
	evictBatch       = 100
)

// Cache is a bounded translation cache. When full it drops the oldest
// entries in one batch.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]Result
	order   []string
}

// NewCache creates a Cache holding at most size entries.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{max: size, entries: make(map[string]Result, size)}
}

// Get returns a cached result.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

// Put stores a result, evicting the oldest batch when the cache is full.
func (c *Cache) Put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = r
		return
	}
	if len(c.entries) >= c.max {
		n := min(evictBatch, len(c.order))
		for _, k := range c.order[:n] {
			delete(c.entries, k)
		}
		c.order = append([]string(nil), c.order[n:]...)
	}
	c.entries[key] = r
	c.order = append(c.order, key)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
