package realtime

import (
	"strings"
	"sync"
	"time"
)

const defaultSeenCapacity = 50

type seenEntry struct {
	id          string
	firstSeenAt time.Time
}

// SeenIDCache is the dedup primitive shared by every event consumer: a
// bounded, time-ordered set of recently processed message ids. When the cap
// is exceeded the oldest entries are evicted, retaining the most recent half.
type SeenIDCache struct {
	mu       sync.Mutex
	capacity int
	entries  []seenEntry
	index    map[string]struct{}
	now      func() time.Time
}

func NewSeenIDCache(capacity int) *SeenIDCache {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &SeenIDCache{
		capacity: capacity,
		entries:  make([]seenEntry, 0, capacity),
		index:    map[string]struct{}{},
		now:      time.Now,
	}
}

// Admit records id and reports whether it was new. A false return means the
// event is a duplicate and must produce no side effects.
func (c *SeenIDCache) Admit(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.index[id]; dup {
		return false
	}
	c.entries = append(c.entries, seenEntry{id: id, firstSeenAt: c.now()})
	c.index[id] = struct{}{}
	if len(c.entries) > c.capacity {
		keep := c.entries[len(c.entries)-c.capacity/2:]
		c.entries = append(make([]seenEntry, 0, c.capacity), keep...)
		c.index = make(map[string]struct{}, len(c.entries))
		for _, entry := range c.entries {
			c.index[entry.id] = struct{}{}
		}
	}
	return true
}

func (c *SeenIDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
