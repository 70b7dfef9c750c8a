// Package memstore implements the volatile in-memory memory backend.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
)

type record struct {
	entry *memory.Entry
	seq   uint64
}

// InMemory is a mutex-guarded map-backed store. It backs the volatile memory
// types and is also embedded by the file-backed store for its working set.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]record
	nextSeq uint64
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]record)}
}

// Add assigns an id and timestamp and stores a copy of the entry.
func (s *InMemory) Add(_ context.Context, e *memory.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.New().String()
	e.Timestamp = time.Now()
	s.put(e.Clone())
	return e.ID, nil
}

// Get returns a copy of the entry, or domain.ErrNotFound.
func (s *InMemory) Get(_ context.Context, id string) (*memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("memory entry %s: %w", id, domain.ErrNotFound)
	}
	return rec.entry.Clone(), nil
}

// Update applies a partial patch. ID and Timestamp are never touched.
func (s *InMemory) Update(_ context.Context, id string, patch memory.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("update memory entry %s: %w", id, domain.ErrNotFound)
	}
	patch.Apply(rec.entry)
	return nil
}

// Delete removes the entry; unknown ids are a no-op.
func (s *InMemory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Query returns matching entries ordered per the filter, ties broken by
// insertion order.
func (s *InMemory) Query(_ context.Context, f memory.Filter) ([]*memory.Entry, error) {
	s.mu.RLock()
	matched := s.collect(func(e *memory.Entry) bool { return f.Matches(e) })
	s.mu.RUnlock()

	memory.Sort(matched, f.OrderBy, f.OrderDir)
	return memory.Paginate(matched, f.Limit, f.Offset), nil
}

// Search performs a case-insensitive substring match over Content.
func (s *InMemory) Search(_ context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error) {
	s.mu.RLock()
	matched := s.collect(func(e *memory.Entry) bool { return memory.MatchesSearch(e, text, opts) })
	s.mu.RUnlock()

	memory.Sort(matched, memory.OrderByTimestamp, memory.OrderDesc)
	return memory.Paginate(matched, opts.Limit, 0), nil
}

// Clear removes all entries, or only those of the given types.
func (s *InMemory) Clear(_ context.Context, types ...memory.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(types) == 0 {
		s.entries = make(map[string]record)
		return nil
	}
	for id, rec := range s.entries {
		if slices.Contains(types, rec.entry.Type) {
			delete(s.entries, id)
		}
	}
	return nil
}

// Count returns the number of entries matching the filter (nil = all).
func (s *InMemory) Count(_ context.Context, f *memory.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f == nil {
		return len(s.entries), nil
	}
	n := 0
	for _, rec := range s.entries {
		if f.Matches(rec.entry) {
			n++
		}
	}
	return n, nil
}

// Snapshot returns copies of all entries in insertion order.
func (s *InMemory) Snapshot() []*memory.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*memory.Entry) bool { return true })
}

// Restore replaces the store's contents, preserving the given order as
// insertion order. Entries keep their existing ids and timestamps.
func (s *InMemory) Restore(entries []*memory.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]record, len(entries))
	s.nextSeq = 0
	for _, e := range entries {
		s.put(e.Clone())
	}
}

// put stores the entry under the next sequence number. Caller holds the lock.
func (s *InMemory) put(e *memory.Entry) {
	s.nextSeq++
	s.entries[e.ID] = record{entry: e, seq: s.nextSeq}
}

// collect returns copies of matching entries in insertion order.
// Caller holds at least the read lock.
func (s *InMemory) collect(match func(*memory.Entry) bool) []*memory.Entry {
	recs := make([]record, 0, len(s.entries))
	for _, rec := range s.entries {
		if match(rec.entry) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	out := make([]*memory.Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry.Clone()
	}
	return out
}
