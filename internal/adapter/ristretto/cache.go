// Package ristretto provides an in-process read cache for memory entries,
// backed by dgraph-io/ristretto. The composite router consults it on Get
// and invalidates on every mutation.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/kestrelworks/hive/internal/domain/memory"
)

// EntryCache caches memory entries by id. Values are cloned on both sides
// so callers can never mutate a cached entry.
type EntryCache struct {
	c *ristretto.Cache[string, *memory.Entry]
}

// New creates a cache. maxCostBytes bounds the total content size held;
// numCounters sizes the admission counters (roughly 10x expected items).
func New(maxCostBytes, numCounters int64) (*EntryCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *memory.Entry]{
		NumCounters: numCounters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &EntryCache{c: c}, nil
}

// Get returns a copy of the cached entry, if present.
func (ec *EntryCache) Get(id string) (*memory.Entry, bool) {
	e, ok := ec.c.Get(id)
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Set stores a copy of the entry. Advisory TTLs bound the cache lifetime
// so an expired entry cannot be served from cache forever.
func (ec *EntryCache) Set(e *memory.Entry) {
	cost := int64(len(e.Content)) + 64
	if e.TTL > 0 {
		ec.c.SetWithTTL(e.ID, e.Clone(), cost, time.Duration(e.TTL)*time.Second)
		return
	}
	ec.c.Set(e.ID, e.Clone(), cost)
}

// Delete removes the entry from the cache.
func (ec *EntryCache) Delete(id string) {
	ec.c.Del(id)
}

// Clear drops every cached entry.
func (ec *EntryCache) Clear() {
	ec.c.Clear()
}

// Close shuts down the cache and releases resources.
func (ec *EntryCache) Close() {
	ec.c.Close()
}
