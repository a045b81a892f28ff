// Package pointcache owns the current-value table. Each point id maps to an
// arena entry with its own lock, so updates for unrelated points never
// contend; the entry is the single serialization owner for that point.
package pointcache

import (
	"sync"
	"time"

	"scada-core/internal/faults"
	"scada-core/internal/model"
)

type entry struct {
	mu sync.Mutex

	has   bool
	value float64
	at    time.Time

	lastSaved time.Time

	ring    []float64
	ringLen int
	ringPos int
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func (c *Cache) entryFor(pointID string) *entry {
	c.mu.RLock()
	e, ok := c.entries[pointID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[pointID]; ok {
		return e
	}
	e = &entry{}
	c.entries[pointID] = e
	return e
}

// Commit runs the full acceptance path for one sample inside the point's
// entry lock: stale-timestamp guard, aggregation window, conversion to
// engineering units, cache update and the per-point history throttle.
// window <= 1 bypasses aggregation; convert may be nil for pass-through.
// The returned bool reports whether the value is due for historical save.
func (c *Cache) Commit(pointID string, raw float64, at time.Time, window int, historyInterval time.Duration, convert func(float64) float64) (model.PointValue, bool, error) {
	e := c.entryFor(pointID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.has && !at.After(e.at) {
		return model.PointValue{}, false, faults.ErrStaleSample
	}

	agg := raw
	if window > 1 {
		agg = e.push(raw, window)
	}

	val := agg
	if convert != nil {
		val = convert(agg)
	}

	e.has = true
	e.value = val
	e.at = at

	save := false
	if historyInterval > 0 && (e.lastSaved.IsZero() || at.Sub(e.lastSaved) >= historyInterval) {
		e.lastSaved = at
		save = true
	}

	return model.PointValue{PointID: pointID, Value: val, At: at}, save, nil
}

// push adds raw to the fixed-size window, oldest-first overwrite, and returns
// the mean of the filled portion.
func (e *entry) push(raw float64, window int) float64 {
	if len(e.ring) != window {
		e.ring = make([]float64, window)
		e.ringLen = 0
		e.ringPos = 0
	}

	e.ring[e.ringPos] = raw
	e.ringPos = (e.ringPos + 1) % window
	if e.ringLen < window {
		e.ringLen++
	}

	var sum float64
	for i := 0; i < e.ringLen; i++ {
		sum += e.ring[i]
	}
	return sum / float64(e.ringLen)
}

func (c *Cache) Get(pointID string) (model.PointValue, bool) {
	c.mu.RLock()
	e, ok := c.entries[pointID]
	c.mu.RUnlock()
	if !ok {
		return model.PointValue{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.has {
		return model.PointValue{}, false
	}
	return model.PointValue{PointID: pointID, Value: e.value, At: e.at}, true
}

// Snapshot returns current values for the given points, or for every cached
// point when ids is empty. Points with no accepted sample yet are omitted.
func (c *Cache) Snapshot(ids ...string) []model.PointValue {
	if len(ids) == 0 {
		c.mu.RLock()
		ids = make([]string, 0, len(c.entries))
		for id := range c.entries {
			ids = append(ids, id)
		}
		c.mu.RUnlock()
	}

	out := make([]model.PointValue, 0, len(ids))
	for _, id := range ids {
		if v, ok := c.Get(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Prune drops entries for points no longer configured.
func (c *Cache) Prune(valid map[string]*model.MonitoringPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if _, ok := valid[id]; !ok {
			delete(c.entries, id)
		}
	}
}
