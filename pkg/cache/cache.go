package cache

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
)

// entry is one cached result
type entry struct {
	key string
	// version is the data version the value was computed at
	version   string
	value     interface{}
	expiresAt time.Time
	element   *list.Element
}

// ResultCache is a thread-safe LRU cache of read results. Every entry
// carries the data version it was computed at; a lookup at a different
// version is a miss, so any write since the entry was stored invalidates
// it.
type ResultCache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*entry
	lruList   *list.List
	hits      uint64
	misses    uint64
	stale     uint64
	evictions uint64
}

// New creates a cache holding at most capacity results, each for at most
// ttl. A zero ttl keeps results until they are stale or evicted.
func New(capacity int, ttl time.Duration) *ResultCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry),
		lruList:  list.New(),
	}
}

// Get returns the value stored under key if it was computed at version
// and has not expired
func (c *ResultCache) Get(key, version string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if e.version != version {
		c.remove(e)
		c.stale++
		c.misses++
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.remove(e)
		c.misses++
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Put stores value under key at version
func (c *ResultCache) Put(key, version string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if e, exists := c.items[key]; exists {
		e.version = version
		e.value = value
		e.expiresAt = expiresAt
		c.lruList.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, version: version, value: value, expiresAt: expiresAt}
	e.element = c.lruList.PushFront(e)
	c.items[key] = e

	if c.lruList.Len() > c.capacity {
		c.remove(c.lruList.Back().Value.(*entry))
		c.evictions++
	}
}

func (c *ResultCache) remove(e *entry) {
	c.lruList.Remove(e.element)
	delete(c.items, e.key)
}

// Clear removes all entries from the cache
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lruList = list.New()
}

// Len returns the current number of entries
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *ResultCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return map[string]interface{}{
		"capacity":    c.capacity,
		"size":        len(c.items),
		"hits":        c.hits,
		"misses":      c.misses,
		"stale":       c.stale,
		"evictions":   c.evictions,
		"hit_rate":    hitRate,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

// Key builds a deterministic cache key from a name and its parameters.
// Documents with the same fields in the same order produce the same key.
func Key(name string, params ...interface{}) string {
	hash := sha256.Sum256([]byte(document.CanonicalKey(params...)))
	return fmt.Sprintf("%s:%x", name, hash[:12])
}

// CleanupExpired removes all expired entries
func (c *ResultCache) CleanupExpired() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			c.remove(e)
			removed++
		}
	}
	return removed
}
