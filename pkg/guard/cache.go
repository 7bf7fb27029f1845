package guard

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DecisionCache memoizes finalized verdicts by fingerprint. The cache
// is purely an optimization: every code path must behave correctly
// against an always-empty cache, just slower.
type DecisionCache interface {
	// Get returns the cached verdict, or false on miss/expiry.
	Get(ctx context.Context, fp Fingerprint) (Verdict, bool)
	// Put stores unconditionally, overwriting any existing entry
	// (last writer wins on identical fingerprints).
	Put(ctx context.Context, fp Fingerprint, v Verdict, ttl time.Duration)
	// Len reports the current entry count.
	Len() int
}

type memoryCacheEntry struct {
	fp        Fingerprint
	verdict   Verdict
	expiresAt time.Time
}

// MemoryCache is an in-process DecisionCache with TTL expiry and an
// LRU bound on entry count. Safe for concurrent use.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[Fingerprint]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	now        func() time.Time

	hits   uint64
	misses uint64
}

// NewMemoryCache creates a cache holding at most maxEntries verdicts.
// maxEntries <= 0 falls back to 1024.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		entries:    make(map[Fingerprint]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached verdict if present and unexpired. Expired
// entries are removed on access and behave exactly like a miss.
func (c *MemoryCache) Get(_ context.Context, fp Fingerprint) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		c.misses++
		return Verdict{}, false
	}

	entry := elem.Value.(*memoryCacheEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, fp)
		c.misses++
		return Verdict{}, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.verdict, true
}

// Put stores a verdict, evicting the least-recently-used entry when
// the capacity bound is exceeded.
func (c *MemoryCache) Put(_ context.Context, fp Fingerprint, v Verdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.entries[fp]; ok {
		entry := elem.Value.(*memoryCacheEntry)
		entry.verdict = v
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&memoryCacheEntry{fp: fp, verdict: v, expiresAt: expiresAt})
	c.entries[fp] = elem

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryCacheEntry).fp)
	}
}

// Len reports the number of live entries (expired entries still
// pending on-access removal are counted).
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// PurgeExpired removes all TTL-expired entries and returns the count
// removed. Intended for a periodic janitor; correctness never depends
// on it since Get expires on access.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*memoryCacheEntry)
		if now.After(entry.expiresAt) {
			c.order.Remove(elem)
			delete(c.entries, entry.fp)
			removed++
		}
		elem = prev
	}
	return removed
}

// HitRate returns hits, misses and the hit ratio since construction.
func (c *MemoryCache) HitRate() (hits, misses uint64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return c.hits, c.misses, 0
	}
	return c.hits, c.misses, float64(c.hits) / float64(total)
}
