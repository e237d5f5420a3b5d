package galeria

import (
	"sync"
	"time"
)

type thumbEntry struct {
	data    []byte
	fetched time.Time
}

// ThumbCache is an in-memory cache of encoded thumbnails keyed by image id, with TTL.
type ThumbCache struct {
	mu      sync.RWMutex
	entries map[string]thumbEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewThumbCache creates an empty ThumbCache.
func NewThumbCache(ttl time.Duration) *ThumbCache {
	return &ThumbCache{
		entries: make(map[string]thumbEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *ThumbCache) valid(e thumbEntry) bool {
	return e.data != nil && c.now().Sub(e.fetched) < c.ttl
}

// Invalidate drops the entry for id so a deleted image stops being served.
func (c *ThumbCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Get returns the cached thumbnail for id, calling load on a miss or expiry.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *ThumbCache) Get(id string, load func() ([]byte, error)) ([]byte, error) {
	c.mu.RLock()
	if e, ok := c.entries[id]; ok && c.valid(e) {
		c.mu.RUnlock()
		return e.data, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && c.valid(e) {
		return e.data, nil
	}
	data, err := load()
	if err != nil {
		return nil, err
	}
	c.entries[id] = thumbEntry{data: data, fetched: c.now()}
	c.sweep()
	return data, nil
}

// sweep drops expired entries. Callers hold the write lock.
func (c *ThumbCache) sweep() {
	for id, e := range c.entries {
		if !c.valid(e) {
			delete(c.entries, id)
		}
	}
}
