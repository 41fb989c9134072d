package api

import (
	"sync"
	"time"

	"golang.org/x/text/cases"
)

type chartKey struct {
	domain string
	owner  string
	kind   string
	place  string
}

func newChartKey(domain, owner, kind, place string) chartKey {
	fold := cases.Fold()
	return chartKey{
		domain: fold.String(domain),
		owner:  fold.String(owner),
		kind:   kind,
		place:  place,
	}
}

type cachedChart struct {
	data      []byte
	expiresAt time.Time
}

// ChartCache keeps rendered preview charts for a short period so repeated
// requests do not refetch the forecast.
type ChartCache struct {
	mu      sync.RWMutex
	entries map[chartKey]cachedChart
	ttl     time.Duration
	now     func() time.Time
}

// NewChartCache creates a cache with the given TTL. A zero TTL disables caching.
func NewChartCache(ttl time.Duration) *ChartCache {
	return &ChartCache{
		entries: make(map[chartKey]cachedChart),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached chart if still valid.
func (c *ChartCache) Get(key chartKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Set stores a chart and drops expired entries.
func (c *ChartCache) Set(key chartKey, data []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedChart{data: data, expiresAt: now.Add(c.ttl)}
}

// Invalidate drops every chart cached for an identity.
func (c *ChartCache) Invalidate(domain, owner string) {
	id := newChartKey(domain, owner, "", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.domain == id.domain && k.owner == id.owner {
			delete(c.entries, k)
		}
	}
}
