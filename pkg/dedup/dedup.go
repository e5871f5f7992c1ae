// Package dedup is the consumer-local record of already-delivered message
// identifiers. It never re-delivers a name marked seen, and it orders
// delivery by the timestamp embedded in the name.
package dedup

import (
	"sort"
	"sync"

	"driftchat/pkg/models"
	"driftchat/pkg/storage"
)

// DefaultCap bounds the number of remembered names. When exceeded, the oldest
// half (by name, and therefore by timestamp) is dropped.
const DefaultCap = 2048

// Cache is one consumer's dedup/ordering cache. Safe for concurrent use by
// the sync loop and the UI thread.
type Cache struct {
	mu   sync.Mutex
	seen map[string]struct{}
	cap  int
}

// New returns a cache bounded at capacity; capacity <= 0 selects DefaultCap.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Cache{seen: make(map[string]struct{}), cap: capacity}
}

// Seen reports whether the name was already delivered. Usable as the seen
// predicate for storage.ListNew so known objects are not re-read.
func (c *Cache) Seen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[name]
	return ok
}

// Filter drops already-seen entries, marks the rest seen, and returns their
// messages sorted ascending by embedded timestamp. Ordering holds within one
// channel; no ordering is guaranteed across channels beyond timestamp order.
func (c *Cache) Filter(candidates []storage.Entry) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make([]storage.Entry, 0, len(candidates))
	for _, e := range candidates {
		if _, ok := c.seen[e.Name]; ok {
			continue
		}
		c.seen[e.Name] = struct{}{}
		fresh = append(fresh, e)
	}
	c.trimLocked()

	sort.Slice(fresh, func(i, j int) bool {
		if !fresh[i].Message.Timestamp.Equal(fresh[j].Message.Timestamp) {
			return fresh[i].Message.Timestamp.Before(fresh[j].Message.Timestamp)
		}
		return fresh[i].Name < fresh[j].Name
	})
	out := make([]models.Message, len(fresh))
	for i, e := range fresh {
		out[i] = e.Message
	}
	return out
}

// Len returns the number of remembered names.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// trimLocked drops the oldest half of the remembered names once the cap is
// exceeded. Names embed the message timestamp, so name order is age order.
func (c *Cache) trimLocked() {
	if len(c.seen) <= c.cap {
		return
	}
	names := make([]string, 0, len(c.seen))
	for n := range c.seen {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names[:len(names)/2] {
		delete(c.seen, n)
	}
}
