package research

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/plan"
)

// cacheEntry is one cached bundle.
type cacheEntry struct {
	bundle       plan.ResearchBundle
	expiresAt    time.Time
	lastAccessed time.Time
}

// CachingProvider wraps a Provider with thread-safe TTL and LRU caching.
// Bundles served from the cache are marked CacheCached. A nil bundle from
// the wrapped provider is returned as is and never cached.
type CachingProvider struct {
	next       Provider
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewCachingProvider creates a cache in front of next.
func NewCachingProvider(next Provider, ttl time.Duration, maxEntries int) *CachingProvider {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &CachingProvider{
		next:       next,
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetMetrics sets the metrics tracker for this cache.
func (c *CachingProvider) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Fetch implements Provider.
func (c *CachingProvider) Fetch(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
	key := string(domain) + "|" + concern
	if b, ok := c.get(key); ok {
		return b, nil
	}
	b, err := c.next.Fetch(ctx, concern, domain)
	if err != nil || b == nil {
		return nil, err
	}
	c.set(key, *b)
	out := cloneBundle(*b)
	out.CacheStatus = plan.CacheLive
	return &out, nil
}

// Len returns the number of cached entries.
func (c *CachingProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachingProvider) get(key string) (*plan.ResearchBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		// Expired entries count as a miss.
		delete(c.entries, key)
		c.metrics.SetCacheSize(len(c.entries))
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	entry.lastAccessed = now
	c.metrics.RecordCacheHit()

	out := cloneBundle(entry.bundle)
	out.CacheStatus = plan.CacheCached
	return &out, true
}

func (c *CachingProvider) set(key string, b plan.ResearchBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = &cacheEntry{
		bundle:       cloneBundle(b),
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
	c.metrics.SetCacheSize(len(c.entries))
}

// evictLRU removes the least recently used entry. Caller must hold the
// write lock.
func (c *CachingProvider) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.lastAccessed.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func cloneBundle(b plan.ResearchBundle) plan.ResearchBundle {
	out := b
	out.Facts = append([]plan.SourcedFact(nil), b.Facts...)
	out.Conflicts = append([]plan.Conflict(nil), b.Conflicts...)
	return out
}
