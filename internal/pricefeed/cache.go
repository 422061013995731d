package pricefeed

import "sync"

// Cache holds the most recent sample per zone. Reads never block behind a
// fetch; writers replace the whole sample atomically.
type Cache struct {
	mu      sync.RWMutex
	samples map[Zone]Sample
}

func NewCache() *Cache {
	return &Cache{samples: make(map[Zone]Sample)}
}

// Get returns the last stored sample for zone, if any.
func (c *Cache) Get(zone Zone) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[zone]
	return s, ok
}

// Put stores s under its zone. A sample older than the stored one is ignored
// so ObservedAt never moves backwards.
func (c *Cache) Put(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.samples[s.Zone]; ok && s.ObservedAt.Before(prev.ObservedAt) {
		return
	}
	c.samples[s.Zone] = s
}

// MarkStale flips the stale bit for zone without discarding the value.
// Returns the updated sample and whether the zone had one.
func (c *Cache) MarkStale(zone Zone) (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[zone]
	if !ok {
		return Sample{}, false
	}
	s.Stale = true
	c.samples[zone] = s
	return s, true
}

// Snapshot returns a copy of all stored samples, for status reporting.
func (c *Cache) Snapshot() map[Zone]Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Zone]Sample, len(c.samples))
	for z, s := range c.samples {
		out[z] = s
	}
	return out
}
