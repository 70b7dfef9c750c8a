// Package service holds the application services: the composite memory
// router, the failure analyzer, the task decomposer and the swarm
// coordinator.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	hiveotel "github.com/kestrelworks/hive/internal/adapter/otel"
	"github.com/kestrelworks/hive/internal/adapter/ristretto"
	"github.com/kestrelworks/hive/internal/bus"
	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
	"github.com/kestrelworks/hive/internal/port/memstore"
)

// route binds a set of memory types to one backend. Registration order is
// load-bearing: cross-backend ties in merged results follow it.
type route struct {
	name  string
	types []memory.Type
	store memstore.Store
}

// Composite routes memory operations to per-type backends and merges
// multi-backend reads into a single ordered result set.
type Composite struct {
	mu       sync.RWMutex
	routes   []route
	fallback memstore.Store

	bus     *bus.Bus
	cache   *ristretto.EntryCache
	metrics *hiveotel.Metrics
	log     *slog.Logger
}

// CompositeOption configures optional collaborators.
type CompositeOption func(*Composite)

// WithCache attaches a read-through cache consulted on Get.
func WithCache(c *ristretto.EntryCache) CompositeOption {
	return func(cp *Composite) { cp.cache = c }
}

// WithMetrics attaches the hive metric instruments.
func WithMetrics(m *hiveotel.Metrics) CompositeOption {
	return func(cp *Composite) { cp.metrics = m }
}

// NewComposite creates a router with no routes. fallback receives every
// type no route claims; it must not be nil. Events for every mutation go
// out on b.
func NewComposite(fallback memstore.Store, b *bus.Bus, log *slog.Logger, opts ...CompositeOption) *Composite {
	if log == nil {
		log = slog.Default()
	}
	c := &Composite{fallback: fallback, bus: b, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultComposite wires the conventional two-tier layout: volatile
// types on the volatile store, durable types on the durable store. The
// volatile store doubles as fallback for unknown types.
func NewDefaultComposite(volatile, durable memstore.Store, b *bus.Bus, log *slog.Logger, opts ...CompositeOption) *Composite {
	c := NewComposite(volatile, b, log, opts...)
	c.Register("volatile", volatile, memory.VolatileTypes...)
	c.Register("durable", durable, memory.DurableTypes...)
	return c
}

// Register binds types to a backend. For a type claimed by more than one
// route, the first registration wins.
func (c *Composite) Register(name string, store memstore.Store, types ...memory.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route{name: name, types: types, store: store})
}

// StoreFor returns the backend serving the given type: the first matching
// route, else the fallback.
func (c *Composite) StoreFor(t memory.Type) memstore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.routes {
		for _, rt := range r.types {
			if rt == t {
				return r.store
			}
		}
	}
	return c.fallback
}

// Initialize prepares every backend that needs loading before first use.
func (c *Composite) Initialize(ctx context.Context) error {
	for _, s := range c.stores(nil) {
		if init, ok := s.(memstore.Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize store: %w", err)
			}
		}
	}
	return nil
}

// Add routes the entry to its type's backend and emits memory:added.
func (c *Composite) Add(ctx context.Context, e *memory.Entry) (string, error) {
	if err := validateEntry(e); err != nil {
		return "", err
	}

	id, err := c.StoreFor(e.Type).Add(ctx, e)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		c.cache.Set(e)
	}
	c.count(ctx, "add")
	c.bus.Emit(bus.MemoryAdded, e.Clone(), bus.EmitOpts{Source: "memory"})
	return id, nil
}

// Get returns the entry from whichever backend holds it. Expired entries
// are returned as-is; expiry is the caller's concern.
func (c *Composite) Get(ctx context.Context, id string) (*memory.Entry, error) {
	if c.cache != nil {
		if e, ok := c.cache.Get(id); ok {
			return e, nil
		}
	}

	for _, s := range c.stores(nil) {
		e, err := s.Get(ctx, id)
		if err == nil {
			if c.cache != nil {
				c.cache.Set(e)
			}
			return e, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("memory entry %s: %w", id, domain.ErrNotFound)
}

// Update patches the entry in its owning backend and emits memory:updated.
// A patch that changes Type does not migrate the entry between backends.
func (c *Composite) Update(ctx context.Context, id string, patch memory.Patch) error {
	owner, err := c.owner(ctx, id)
	if err != nil {
		return err
	}
	if err := owner.Update(ctx, id, patch); err != nil {
		return err
	}

	if c.cache != nil {
		c.cache.Delete(id)
	}
	c.count(ctx, "update")
	if e, err := owner.Get(ctx, id); err == nil {
		c.bus.Emit(bus.MemoryUpdated, e, bus.EmitOpts{Source: "memory"})
	}
	return nil
}

// Delete removes the entry wherever it lives. Unknown ids are a no-op
// and emit nothing.
func (c *Composite) Delete(ctx context.Context, id string) error {
	owner, err := c.owner(ctx, id)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := owner.Delete(ctx, id); err != nil {
		return err
	}

	if c.cache != nil {
		c.cache.Delete(id)
	}
	c.count(ctx, "delete")
	c.bus.Emit(bus.MemoryDeleted, id, bus.EmitOpts{Source: "memory"})
	return nil
}

// Query fans out to every backend serving a type the filter can match,
// merges the unions, re-sorts and re-paginates.
func (c *Composite) Query(ctx context.Context, f memory.Filter) ([]*memory.Entry, error) {
	stores := c.stores(f.Types)
	results := make([][]*memory.Entry, len(stores))

	// Backends paginate their own slice; the merged set needs the full
	// window, so fan out without limit/offset and re-apply after the merge.
	fanout := f
	fanout.Limit = 0
	fanout.Offset = 0

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range stores {
		g.Go(func() error {
			entries, err := s.Query(gctx, fanout)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeDedup(results)
	memory.Sort(merged, f.OrderBy, f.OrderDir)
	return memory.Paginate(merged, f.Limit, f.Offset), nil
}

// Search fans out a content search to every backend serving the option's
// types and merges the results newest-first.
func (c *Composite) Search(ctx context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error) {
	stores := c.stores(opts.Types)
	results := make([][]*memory.Entry, len(stores))

	fanout := opts
	fanout.Limit = 0

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range stores {
		g.Go(func() error {
			entries, err := s.Search(gctx, text, fanout)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeDedup(results)
	memory.Sort(merged, memory.OrderByTimestamp, memory.OrderDesc)
	return memory.Paginate(merged, opts.Limit, 0), nil
}

// Clear wipes all backends, or only the backends serving the given types
// (restricted to those types). The cache is keyed by id, not type, so any
// clear drops it wholesale.
func (c *Composite) Clear(ctx context.Context, types ...memory.Type) error {
	if len(types) == 0 {
		for _, s := range c.stores(nil) {
			if err := s.Clear(ctx); err != nil {
				return err
			}
		}
		c.invalidateAll()
		return nil
	}
	for _, s := range c.stores(types) {
		if err := s.Clear(ctx, types...); err != nil {
			return err
		}
	}
	c.invalidateAll()
	return nil
}

func (c *Composite) invalidateAll() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Count sums entry counts across the backends the filter can reach.
func (c *Composite) Count(ctx context.Context, f *memory.Filter) (int, error) {
	var types []memory.Type
	if f != nil {
		types = f.Types
	}
	total := 0
	for _, s := range c.stores(types) {
		n, err := s.Count(ctx, f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Flush forces buffered backends to persist now.
func (c *Composite) Flush(ctx context.Context) error {
	for _, s := range c.stores(nil) {
		if fl, ok := s.(memstore.Flusher); ok {
			if err := fl.Save(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and shuts down every backend that supports it.
func (c *Composite) Close(ctx context.Context) error {
	var firstErr error
	for _, s := range c.stores(nil) {
		if fl, ok := s.(memstore.Flusher); ok {
			if err := fl.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if c.cache != nil {
		c.cache.Close()
	}
	return firstErr
}

// stores returns the distinct backends serving at least one of the given
// types (nil = all backends), in registration order with the fallback
// last.
func (c *Composite) stores(types []memory.Type) []memstore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []memstore.Store
	seen := make(map[memstore.Store]bool)
	add := func(s memstore.Store) {
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, r := range c.routes {
		if len(types) == 0 || overlaps(r.types, types) {
			add(r.store)
		}
	}
	if len(types) == 0 || c.anyUnrouted(types) {
		add(c.fallback)
	}
	return out
}

// anyUnrouted reports whether some requested type has no route, meaning
// the fallback could hold matching entries. Callers hold c.mu.
func (c *Composite) anyUnrouted(types []memory.Type) bool {
	for _, t := range types {
		routed := false
		for _, r := range c.routes {
			for _, rt := range r.types {
				if rt == t {
					routed = true
				}
			}
		}
		if !routed {
			return true
		}
	}
	return false
}

// owner finds the backend currently holding id.
func (c *Composite) owner(ctx context.Context, id string) (memstore.Store, error) {
	for _, s := range c.stores(nil) {
		if _, err := s.Get(ctx, id); err == nil {
			return s, nil
		} else if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("memory entry %s: %w", id, domain.ErrNotFound)
}

func (c *Composite) count(ctx context.Context, op string) {
	if c.metrics != nil {
		c.metrics.MemoryOps.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

func validateEntry(e *memory.Entry) error {
	if e == nil {
		return fmt.Errorf("memory entry is required")
	}
	if !memory.ValidType(e.Type) {
		return fmt.Errorf("memory type %q is not supported", e.Type)
	}
	if e.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	return nil
}

// mergeDedup concatenates per-backend result sets, dropping duplicate ids.
// Input order is preserved so the stable re-sort keeps backend order on
// ties.
func mergeDedup(results [][]*memory.Entry) []*memory.Entry {
	var merged []*memory.Entry
	seen := make(map[string]bool)
	for _, rs := range results {
		for _, e := range rs {
			if !seen[e.ID] {
				seen[e.ID] = true
				merged = append(merged, e)
			}
		}
	}
	return merged
}

func overlaps(a, b []memory.Type) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
