package bridge

import "sync"

// ApplyResult describes the effect of applying a hub event to the cache.
type ApplyResult struct {
	// Changed is true when the value differs from the cached one, or
	// when the zone was not cached yet.
	Changed bool

	// Republish is true when the router should publish the state even
	// if unchanged, which happens for zones marked by ForceRefreshAll.
	Republish bool

	// Prior is the previously cached value; only valid when PriorKnown.
	Prior      Value
	PriorKnown bool
}

// StateCache is the bridge's in-memory record of last known channel
// state, keyed by hub zone ID. It is not persisted: after a restart it
// rebuilds from a forced refresh.
//
// Only the router mutates the cache, but reads may come from health
// reporting, so access is guarded anyway.
type StateCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value Value

	// due marks the entry for republish after a reconnect.
	due bool
}

// NewStateCache returns an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{
		entries: make(map[string]cacheEntry),
	}
}

// Apply records a zone value and reports what the router should do.
// Applying the same value twice is idempotent: the second application
// reports Changed=false and leaves the entry untouched.
func (c *StateCache) Apply(zoneID string, value Value) ApplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior, known := c.entries[zoneID]

	result := ApplyResult{
		Prior:      prior.value,
		PriorKnown: known,
		Changed:    !known || !prior.value.Equal(value),
	}
	result.Republish = result.Changed || prior.due

	c.entries[zoneID] = cacheEntry{value: value}
	return result
}

// Get returns the cached value for a zone.
func (c *StateCache) Get(zoneID string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[zoneID]
	return entry.value, ok
}

// ForceRefreshAll marks every cached zone as due for republish without
// touching the cached values, and returns how many were marked. The
// next Apply for each marked zone publishes even when the value is
// unchanged, so subscribers resync after a reconnect.
func (c *StateCache) ForceRefreshAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for zoneID, entry := range c.entries {
		entry.due = true
		c.entries[zoneID] = entry
	}
	return len(c.entries)
}

// DueZones returns the zones currently marked for republish.
func (c *StateCache) DueZones() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	zones := make([]string, 0, len(c.entries))
	for zoneID, entry := range c.entries {
		if entry.due {
			zones = append(zones, zoneID)
		}
	}
	return zones
}

// Len returns the number of cached zones.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
