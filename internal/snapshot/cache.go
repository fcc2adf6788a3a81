package snapshot

import (
	"sync"
	"time"
)

// memCache is the in-memory snapshot cache named throughout spec.md
// §4.4 and exposed to the /clear_cache endpoint and the trading:new_day
// pub/sub handler. Shape mirrors the teacher's internal/cache/cache.go
// Get/Set-with-TTL pattern, adapted to a plain in-process map since the
// cached value here is the Redis round-trip result itself, not
// something that benefits from being in Redis too.
type memCache struct {
	mu        sync.RWMutex
	lists     map[string]*cachedList
	staleness time.Duration
}

func newMemCache(staleness time.Duration) *memCache {
	return &memCache{
		lists:     make(map[string]*cachedList),
		staleness: staleness,
	}
}

// Get returns the cached rows and sequence for list if present and
// younger than the staleness bound.
func (c *memCache) Get(list string) (rows []Row, sequence int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.lists[list]
	if !found {
		return nil, 0, false
	}
	if time.Since(time.Unix(0, entry.cachedAt)) > c.staleness {
		return nil, 0, false
	}
	return entry.rows, entry.sequence, true
}

// Set replaces list's cached rows and sequence.
func (c *memCache) Set(list string, rows []Row, sequence int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[list] = &cachedList{rows: rows, sequence: sequence, cachedAt: time.Now().UnixNano()}
}

// Invalidate drops list's cache entry so the next subscriber re-reads
// from Redis (spec.md §4.4's delta-dispatch instruction).
func (c *memCache) Invalidate(list string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, list)
}

// Clear drops every cached list, used by /clear_cache and the
// trading:new_day pub/sub channel.
func (c *memCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.lists)
	c.lists = make(map[string]*cachedList)
	return n
}

// Sequence returns list's cached sequence without regard to staleness,
// so a gap-detection resync does not need a fresh Redis read just to
// learn the current sequence.
func (c *memCache) Sequence(list string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.lists[list]
	if !ok {
		return 0, false
	}
	return entry.sequence, true
}
