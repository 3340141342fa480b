// Package cache provides an in-memory TTL cache over an LRU store.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cleanupInterval is how often expired entries are swept out.
const cleanupInterval = 5 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a size-bounded key/value cache with per-entry TTLs. Expired
// entries are dropped lazily on read and swept periodically by a janitor
// goroutine.
type Cache struct {
	store       *lru.Cache[string, entry]
	mutex       sync.Mutex
	stopCleanup chan struct{}
}

func New(maxEntries int) *Cache {
	store, _ := lru.New[string, entry](maxEntries)
	c := &Cache{
		store:       store,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Stop stops the background janitor.
func (c *Cache) Stop() {
	close(c.stopCleanup)
}

func (c *Cache) Get(key string) (any, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.store.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store.Add(key, entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store.Remove(key)
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.store.Len()
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && now.After(e.expiresAt) {
			c.store.Remove(key)
		}
	}
}
