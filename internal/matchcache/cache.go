// Package matchcache memoizes filter results per (venue, face, variant).
//
// Entries expire lazily: Get never returns an entry older than the TTL.
// The entry count is bounded and the oldest inserted entry is evicted first.
// Reads do not refresh an entry's position, so eviction follows insertion
// order rather than recency.
package matchcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type Key struct {
	Venue   string
	FaceID  string
	Variant string
}

// Entry is a cached filter result.
type Entry struct {
	Photos      []models.MatchedPhoto
	TotalPhotos int
	Method      string
	ComputedAt  time.Time
}

type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[Key, Entry]
	ttl   time.Duration
	clock Clock
	// gen advances on every invalidation.
	gen uint64
}

func New(maxEntries int, ttl time.Duration, clock Clock) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if clock == nil {
		clock = time.Now
	}
	// NewLRU only fails for a non-positive size.
	l, _ := simplelru.NewLRU[Key, Entry](maxEntries, nil)
	return &Cache{lru: l, ttl: ttl, clock: clock}
}

// Get returns the entry for key if it is younger than the TTL.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	if c.clock().Sub(e.ComputedAt) >= c.ttl {
		c.lru.Remove(key)
		observability.CacheEntries.Set(float64(c.lru.Len()))
		observability.CacheLookups.WithLabelValues("expired").Inc()
		return Entry{}, false
	}
	observability.CacheLookups.WithLabelValues("hit").Inc()
	return e, true
}

// Put stores e under key, stamping ComputedAt when it is zero. Re-putting an
// existing key counts as a fresh insertion.
func (c *Cache) Put(key Key, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, e)
}

// Generation identifies the current invalidation epoch. A result computed
// before an invalidation must be stored with PutIfCurrent.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfCurrent stores e like Put unless the cache was invalidated since gen
// was read. It reports whether e was stored.
func (c *Cache) PutIfCurrent(key Key, e Entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.put(key, e)
	return true
}

func (c *Cache) put(key Key, e Entry) {
	if e.ComputedAt.IsZero() {
		e.ComputedAt = c.clock()
	}
	c.lru.Remove(key)
	c.lru.Add(key, e)
	observability.CacheEntries.Set(float64(c.lru.Len()))
}

// InvalidateVenue drops every entry of one venue and returns how many went.
func (c *Cache) InvalidateVenue(venue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	n := 0
	for _, k := range c.lru.Keys() {
		if k.Venue == venue {
			c.lru.Remove(k)
			n++
		}
	}
	observability.CacheEntries.Set(float64(c.lru.Len()))
	return n
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
	observability.CacheEntries.Set(0)
}

// Len counts held entries, including expired ones not read since expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns held keys from oldest to newest insertion.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}
