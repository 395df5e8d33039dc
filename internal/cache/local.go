package cache

import (
	"container/list"
	"math/rand"
	"sync"
	"time"
)

// entry is a single cached payload with its own expiry window.
type entry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry is past its TTL.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// inEarlyWindow reports whether the entry has entered the final
// earlyFactor share of its lifetime, where it may be reported as a
// miss ahead of time to spread out recomputation.
func (e *entry) inEarlyWindow(now time.Time, earlyFactor float64) bool {
	if earlyFactor <= 0 {
		return false
	}
	threshold := time.Duration(float64(e.ttl) * (1 - earlyFactor))
	return now.Sub(e.storedAt) > threshold
}

// LocalCache is the in-process tier: an LRU bounded by capacity with
// per-entry TTL. Entries close to expiry are probabilistically
// reported as misses so that concurrent refreshes do not pile up at
// the exact expiration instant; the entry itself stays in place until
// it truly expires, keeping it available to callers that won the coin
// toss the other way.
type LocalCache struct {
	capacity    int
	defaultTTL  time.Duration
	earlyFactor float64

	mu        sync.RWMutex
	items     map[string]*list.Element
	evictList *list.List

	// Injectable for deterministic tests
	rng func() float64
	now func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLocalCache creates a local tier bounded to capacity entries.
// earlyFactor is the share of an entry's TTL, counted from the end,
// in which reads flip a coin between hit and miss.
func NewLocalCache(capacity int, defaultTTL time.Duration, earlyFactor float64) *LocalCache {
	return &LocalCache{
		capacity:    capacity,
		defaultTTL:  defaultTTL,
		earlyFactor: earlyFactor,
		items:       make(map[string]*list.Element),
		evictList:   list.New(),
		rng:         rand.Float64,
		now:         time.Now,
	}
}

// Get retrieves a value. The returned slice is shared; callers must
// not modify it.
func (c *LocalCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	now := c.now()

	if e.expired(now) {
		c.removeElement(elem)
		c.evictions++
		c.misses++
		return nil, false
	}

	if e.inEarlyWindow(now, c.earlyFactor) && c.rng() < 0.5 {
		c.misses++
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	c.hits++
	return e.value, true
}

// Set adds or updates a value. A non-positive ttl falls back to the
// default; a ttl above the default is capped so the local tier never
// outlives its configured freshness window.
func (c *LocalCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.evictList.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.value = value
		e.storedAt = c.now()
		e.ttl = ttl
		return
	}

	elem := c.evictList.PushFront(&entry{
		key:      key,
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
	})
	c.items[key] = elem

	if c.evictList.Len() > c.capacity {
		c.removeOldest()
		c.evictions++
	}
}

// Delete removes a key, reporting whether it was present.
func (c *LocalCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	c.evictions++
	return true
}

// DeleteMatching removes every key accepted by the predicate and
// returns the number removed.
func (c *LocalCache) DeleteMatching(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if match(key) {
			c.removeElement(elem)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// Clear removes all entries and returns the number removed.
func (c *LocalCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.items)
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.evictions += uint64(removed)
	return removed
}

// Size returns the number of entries currently stored.
func (c *LocalCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stats returns hit, miss and eviction counters.
func (c *LocalCache) Stats() (hits, misses, evictions uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.hits, c.misses, c.evictions
}

// Clean removes expired entries and returns the number removed.
// Entries carry individual TTLs, so the whole table is scanned.
func (c *LocalCache) Clean() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, elem := range c.items {
		if elem.Value.(*entry).expired(now) {
			c.removeElement(elem)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// removeOldest removes the least recently used entry
func (c *LocalCache) removeOldest() {
	if elem := c.evictList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache
func (c *LocalCache) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.items, e.key)
	c.evictList.Remove(elem)
}
