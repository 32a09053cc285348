package signup

import (
	"sync"
	"time"
)

// PendingSignup holds the profile handed back by the SSO provider while the
// user finishes registration.
type PendingSignup struct {
	Email    string
	FullName string
	Role     string
}

// Cache is a short-lived keyed store for pending signups. Entries expire
// after the TTL; a process restart loses them, which is acceptable given the
// 10-minute window.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	stop    chan struct{}
}

type cacheEntry struct {
	value     PendingSignup
	expiresAt time.Time
}

const DefaultTTL = 10 * time.Minute

func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *Cache) Put(key string, value PendingSignup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the entry if present and unexpired. Expired entries are evicted
// on access.
func (c *Cache) Get(key string) (PendingSignup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return PendingSignup{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return PendingSignup{}, false
	}
	return entry.value, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background eviction loop.
func (c *Cache) Close() {
	close(c.stop)
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
