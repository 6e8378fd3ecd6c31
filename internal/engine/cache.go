package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/model"
)

// responseCache holds successful step results for the lifetime of one
// run. A ttl of zero means the entry stays valid until the run ends.
type responseCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]cacheEntry
}

type cacheEntry struct {
	storedAt time.Time
	ttl      time.Duration
	result   *model.StepResult
}

func newResponseCache() *responseCache {
	return &responseCache{entries: map[uuid.UUID]cacheEntry{}}
}

func (c *responseCache) put(stepID uuid.UUID, ttlSeconds int, res *model.StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stepID] = cacheEntry{
		storedAt: time.Now(),
		ttl:      time.Duration(ttlSeconds) * time.Second,
		result:   res,
	}
}

// get returns a copy of the cached result marked fromCache, or false
// when the entry is absent or expired.
func (c *responseCache) get(stepID uuid.UUID) (*model.StepResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[stepID]
	if !ok {
		return nil, false
	}
	if entry.ttl > 0 && time.Since(entry.storedAt) >= entry.ttl {
		delete(c.entries, stepID)
		return nil, false
	}
	cp := *entry.result
	cp.FromCache = true
	return &cp, true
}
