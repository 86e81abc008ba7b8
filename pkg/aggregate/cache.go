package aggregate

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"savingsd/pkg/period"
)

// DefaultTTL bounds how stale a cached summary may be served.
const DefaultTTL = 30 * time.Second

// Key identifies one cached summary: a user, a period kind, and the first day
// of that period.
type Key struct {
	UserID uint
	Kind   period.Kind
	Start  period.Date
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s", k.UserID, k.Kind, k.Start)
}

type entry struct {
	sum     Summary
	expires time.Time
}

// Cache is a TTL-bounded summary cache. Concurrent requests for the same key
// are deduplicated so the loader runs once per miss.
type Cache struct {
	ttl   time.Duration
	now   func() time.Time // replaced in tests
	group singleflight.Group

	mu      sync.Mutex
	entries map[Key]entry
	// gens invalidates in-flight loads: a load started before the user's
	// generation moved must not store its result.
	gens map[uint]uint64
}

// NewCache returns a cache whose entries expire after ttl. A non-positive ttl
// falls back to DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Key]entry),
		gens:    make(map[uint]uint64),
	}
}

// Summary returns the cached value for key, or runs load and caches the
// result. An entry older than the TTL is never returned; it is recomputed.
func (c *Cache) Summary(key Key, load func() (Summary, error)) (Summary, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.sum, nil
	}
	gen := c.gens[key.UserID]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		sum, err := load()
		if err != nil {
			return Zero(), err
		}
		c.mu.Lock()
		// an invalidation during the load means sum may predate a write
		if c.gens[key.UserID] == gen {
			c.entries[key] = entry{sum: sum, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return sum, nil
	})
	if err != nil {
		return Zero(), err
	}
	return v.(Summary), nil
}

// Invalidate drops a single cached entry.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key.UserID]++
	c.mu.Unlock()
}

// InvalidateUser drops every cached entry belonging to a user, including the
// results of loads still in flight. Called after any write on that user's data.
func (c *Cache) InvalidateUser(userID uint) {
	c.mu.Lock()
	for k := range c.entries {
		if k.UserID == userID {
			delete(c.entries, k)
		}
	}
	c.gens[userID]++
	c.mu.Unlock()
}

// Len reports the number of live entries (expired ones included until they
// are overwritten).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
