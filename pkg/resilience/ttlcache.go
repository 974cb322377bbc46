package resilience

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a generic, fixed-capacity cache with per-entry TTL and LRU
// eviction. Expired entries are treated as absent on lookup and swept
// lazily; capacity overflow evicts the least-recently-used entry.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List // front = most recently used

	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewCache creates a cache holding at most capacity entries, each valid for
// ttl after being set. A zero ttl means entries never expire on their own.
func NewCache[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set inserts or updates key, resetting its TTL and recency.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of entries currently stored, including any not
// yet lazily swept past expiry.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports cumulative hit/miss counters.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache[K, V]) evictOldest() {
	el := c.order.Back()
	if el != nil {
		c.removeElement(el)
	}
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.order.Remove(el)
}

// CacheRegistry names and owns the set of distinct caches the memory core
// needs — embedding lookups, graph query results, and session summaries —
// each with its own size and TTL rather than sharing one cache's eviction
// pressure across unrelated workloads.
type CacheRegistry struct {
	mu     sync.Mutex
	caches map[string]any
}

// NewCacheRegistry creates an empty registry.
func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{caches: make(map[string]any)}
}

// registryGet retrieves or lazily creates the named cache via factory.
// Go generics can't parametrize methods independently of their receiver
// type, so callers get a typed helper (see EmbeddingCache et al.) built on
// top of this.
func registryGet[K comparable, V any](r *CacheRegistry, name string, capacity int, ttl time.Duration) *Cache[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.caches[name]; ok {
		return existing.(*Cache[K, V])
	}
	c := NewCache[K, V](capacity, ttl)
	r.caches[name] = c
	return c
}

// EmbeddingCache returns the named embedding-vector cache (string text ->
// []float32), creating it on first use.
func EmbeddingCache(r *CacheRegistry) *Cache[string, []float32] {
	return registryGet[string, []float32](r, "embedding", 2000, 30*time.Minute)
}

// GraphQueryCache returns the named knowledge-graph query-result cache
// (rendered context string keyed by query text), creating it on first use.
func GraphQueryCache(r *CacheRegistry) *Cache[string, string] {
	return registryGet[string, string](r, "graph_query", 500, 5*time.Minute)
}

// SessionSummaryCache returns the named session-summary cache (session ID
// string -> summary text), creating it on first use.
func SessionSummaryCache(r *CacheRegistry) *Cache[string, string] {
	return registryGet[string, string](r, "session_summary", 1000, time.Hour)
}
