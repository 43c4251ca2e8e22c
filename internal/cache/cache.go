package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// entry is one cached value with its expiry.
type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	element   *list.Element
}

// Config holds cache configuration.
type Config struct {
	MaxEntries        int           // Eviction threshold (default 1000)
	TTL               time.Duration // Per-entry lifetime (default 5m)
	SlidingExpiration bool          // Extend TTL on hit (default true)
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:        1000,
		TTL:               5 * time.Minute,
		SlidingExpiration: true,
	}
}

// Cache is a generic TTL+LRU cache.
type Cache[K comparable, V any] struct {
	cfg       Config
	entries   map[K]*entry[K, V]
	evictList *list.List
	mu        sync.Mutex

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache with the given configuration.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.MaxEntries < 1 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache[K, V]{
		cfg:       cfg,
		entries:   make(map[K]*entry[K, V]),
		evictList: list.New(),
	}
}

// Get retrieves a value. Expired entries are removed and count as misses.
// On hit the entry moves to the MRU position and, with sliding expiration,
// its TTL restarts.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		return zero, false
	}

	if c.cfg.SlidingExpiration {
		e.expiresAt = time.Now().Add(c.cfg.TTL)
	}
	c.evictList.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set adds or updates a value, evicting from the LRU end when full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(c.cfg.TTL)
		c.evictList.MoveToFront(e.element)
		return
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.cfg.TTL),
	}
	e.element = c.evictList.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.cfg.MaxEntries {
		c.evictOldest()
	}
}

// Delete removes a key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeEntry(e)
	}
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[K, V])
	c.evictList = list.New()
}

// Len returns the number of entries, expired included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) evictOldest() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	c.removeEntry(elem.Value.(*entry[K, V]))
	c.evictions++
}

func (c *Cache[K, V]) removeEntry(e *entry[K, V]) {
	c.evictList.Remove(e.element)
	delete(c.entries, e.key)
}

// Stats holds cache statistics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hitRate"`
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
		HitRate:   rate,
	}
}

// TaskKey derives a deterministic cache key for a task, optionally scoped to
// an agent: the first 16 hex characters of sha-256 over "agent:task" (or just
// the task when no agent is given).
func TaskKey(task, agent string) string {
	input := task
	if agent != "" {
		input = agent + ":" + task
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}
