package cache

import (
	"sync"
	"time"
)

// entry wraps a stored value with its expiry. A zero expiresAt means the
// entry never expires.
type entry struct {
	value     any
	expiresAt time.Time
}

// InMemoryCache is a simple, concurrent-safe in-memory key-value store with
// optional per-entry expiry.
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]entry

	// now is swappable so tests can control expiry.
	now func() time.Time
}

// NewInMemoryCache creates and returns a new InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Get retrieves a value from the cache.
// It returns the value and true if the key exists and has not expired,
// otherwise nil and false.
func (c *InMemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}
	if !item.expiresAt.IsZero() && c.now().After(item.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return item.value, true
}

// Set adds or updates a value in the cache with no expiry.
func (c *InMemoryCache) Set(key string, value any) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL adds or updates a value that expires after ttl. A non-positive
// ttl stores the value without expiry.
func (c *InMemoryCache) SetWithTTL(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expiresAt: expiresAt}
}

// Delete removes a value from the cache.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
