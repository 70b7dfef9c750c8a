package service

import (
	"errors"
	"testing"
	"time"

	"github.com/kestrelworks/hive/internal/adapter/memstore"
	"github.com/kestrelworks/hive/internal/adapter/ristretto"
	"github.com/kestrelworks/hive/internal/bus"
	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
)

func newTestComposite(t *testing.T) (*Composite, *memstore.InMemory, *memstore.InMemory, *bus.Bus) {
	t.Helper()
	volatile := memstore.NewInMemory()
	durable := memstore.NewInMemory()
	b := bus.New()
	return NewDefaultComposite(volatile, durable, b, nil), volatile, durable, b
}

func addEntry(t *testing.T, c *Composite, typ memory.Type, content string) *memory.Entry {
	t.Helper()
	e := &memory.Entry{Type: typ, Content: content}
	if _, err := c.Add(t.Context(), e); err != nil {
		t.Fatalf("Add(%s): %v", content, err)
	}
	return e
}

func TestCompositeRoutesByType(t *testing.T) {
	c, volatile, durable, _ := newTestComposite(t)

	addEntry(t, c, memory.TypeAction, "ran the linter")
	addEntry(t, c, memory.TypeLesson, "always pin versions")

	if n, _ := volatile.Count(t.Context(), nil); n != 1 {
		t.Errorf("volatile count = %d, want 1", n)
	}
	if n, _ := durable.Count(t.Context(), nil); n != 1 {
		t.Errorf("durable count = %d, want 1", n)
	}
}

func TestCompositeAddRejectsInvalid(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	if _, err := c.Add(t.Context(), &memory.Entry{Type: "bogus", Content: "x"}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := c.Add(t.Context(), &memory.Entry{Type: memory.TypeAction}); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestCompositeGetAcrossBackends(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	e := addEntry(t, c, memory.TypeDecision, "use sqlite for durable memory")
	got, err := c.Get(t.Context(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != e.Content {
		t.Errorf("Content = %q, want %q", got.Content, e.Content)
	}

	if _, err := c.Get(t.Context(), "nope"); err == nil {
		t.Error("expected not found for unknown id")
	}
}

func TestCompositeQueryMergesAndSorts(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	addEntry(t, c, memory.TypeAction, "volatile low")
	critical := addEntry(t, c, memory.TypeLesson, "durable critical")
	_ = c.Update(t.Context(), critical.ID, memory.Patch{
		Metadata: &memory.Metadata{Importance: memory.ImportanceCritical},
	})

	got, err := c.Query(t.Context(), memory.Filter{
		OrderBy:  memory.OrderByImportance,
		OrderDir: memory.OrderDesc,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].ID != critical.ID {
		t.Errorf("first entry should be the critical one, got %q", got[0].Content)
	}
}

func TestCompositeQueryPaginatesMergedSet(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	for range 3 {
		addEntry(t, c, memory.TypeAction, "volatile")
	}
	for range 3 {
		addEntry(t, c, memory.TypeLesson, "durable")
	}

	got, err := c.Query(t.Context(), memory.Filter{Limit: 4, Offset: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d entries, want 4 (limit applied after merge)", len(got))
	}
}

func TestCompositeSearchSpansBackends(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	addEntry(t, c, memory.TypeAction, "Deploy failed on staging")
	addEntry(t, c, memory.TypeLesson, "deploys need a canary first")
	addEntry(t, c, memory.TypePlan, "unrelated plan")

	got, err := c.Search(t.Context(), "deploy", memory.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d matches, want 2 across both backends", len(got))
	}
}

func TestCompositeUpdateAndDelete(t *testing.T) {
	c, _, _, b := newTestComposite(t)

	var deleted, updated int
	b.On(bus.MemoryUpdated, func(bus.Event) { updated++ })
	b.On(bus.MemoryDeleted, func(bus.Event) { deleted++ })

	e := addEntry(t, c, memory.TypeSession, "session notes")

	content := "revised notes"
	if err := c.Update(t.Context(), e.ID, memory.Patch{Content: &content}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := c.Get(t.Context(), e.ID)
	if got.Content != content {
		t.Errorf("Content = %q, want %q", got.Content, content)
	}

	if err := c.Delete(t.Context(), e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(t.Context(), e.ID); err == nil {
		t.Error("entry still present after delete")
	}
	// Unknown ids are a silent no-op.
	if err := c.Delete(t.Context(), "nope"); err != nil {
		t.Errorf("Delete unknown: %v", err)
	}

	if updated != 1 || deleted != 1 {
		t.Errorf("events: updated=%d deleted=%d, want 1 and 1", updated, deleted)
	}
}

func TestCompositeEmitsAddedEvent(t *testing.T) {
	c, _, _, b := newTestComposite(t)

	var got *memory.Entry
	b.On(bus.MemoryAdded, func(ev bus.Event) {
		got, _ = ev.Payload.(*memory.Entry)
	})

	e := addEntry(t, c, memory.TypeError, "boom")
	if got == nil || got.ID != e.ID {
		t.Fatalf("memory:added payload = %+v, want entry %s", got, e.ID)
	}
}

func TestCompositeClearByType(t *testing.T) {
	c, volatile, durable, _ := newTestComposite(t)

	addEntry(t, c, memory.TypeAction, "a")
	addEntry(t, c, memory.TypeLesson, "l")

	if err := c.Clear(t.Context(), memory.TypeLesson); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := durable.Count(t.Context(), nil); n != 0 {
		t.Errorf("durable count = %d, want 0", n)
	}
	if n, _ := volatile.Count(t.Context(), nil); n != 1 {
		t.Errorf("volatile count = %d, want 1 (untouched)", n)
	}

	// Idempotent.
	if err := c.Clear(t.Context(), memory.TypeLesson); err != nil {
		t.Fatalf("Clear again: %v", err)
	}
	if err := c.Clear(t.Context()); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if n, _ := c.Count(t.Context(), nil); n != 0 {
		t.Errorf("total count = %d, want 0", n)
	}
}

func TestCompositeCountSumsBackends(t *testing.T) {
	c, _, _, _ := newTestComposite(t)

	addEntry(t, c, memory.TypeAction, "a")
	addEntry(t, c, memory.TypeLesson, "l")
	addEntry(t, c, memory.TypePlan, "p")

	n, err := c.Count(t.Context(), nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	n, err = c.Count(t.Context(), &memory.Filter{Types: []memory.Type{memory.TypeLesson, memory.TypePlan}})
	if err != nil {
		t.Fatalf("Count filtered: %v", err)
	}
	if n != 2 {
		t.Errorf("Count filtered = %d, want 2", n)
	}
}

func TestCompositeStoreFor(t *testing.T) {
	c, volatile, durable, _ := newTestComposite(t)

	if c.StoreFor(memory.TypeAction) != volatile {
		t.Error("action should route to the volatile store")
	}
	if c.StoreFor(memory.TypeLesson) != durable {
		t.Error("lesson should route to the durable store")
	}
	// Unrouted types fall back to the volatile store.
	if c.StoreFor("bogus") != volatile {
		t.Error("unknown type should fall back to the volatile store")
	}
}

func TestCompositeFirstRouteWins(t *testing.T) {
	first := memstore.NewInMemory()
	second := memstore.NewInMemory()
	c := NewComposite(memstore.NewInMemory(), bus.New(), nil)
	c.Register("first", first, memory.TypeLesson)
	c.Register("second", second, memory.TypeLesson)

	if c.StoreFor(memory.TypeLesson) != first {
		t.Error("a type claimed twice must resolve to the first route")
	}
	addEntry(t, c, memory.TypeLesson, "x")
	if n, _ := first.Count(t.Context(), nil); n != 1 {
		t.Errorf("first-route count = %d, want 1", n)
	}
	if n, _ := second.Count(t.Context(), nil); n != 0 {
		t.Errorf("second-route count = %d, want 0", n)
	}
}

func TestCompositeClearInvalidatesCache(t *testing.T) {
	cache, err := ristretto.New(1<<20, 1e4)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(cache.Close)
	c := NewDefaultComposite(memstore.NewInMemory(), memstore.NewInMemory(), bus.New(), nil,
		WithCache(cache))

	e := addEntry(t, c, memory.TypeLesson, "stale")
	waitCached(t, cache, e.ID)

	if err := c.Clear(t.Context()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := c.Get(t.Context(), e.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after clear = %v, want ErrNotFound", err)
	}

	// Typed clears drop the cache as well.
	e2 := addEntry(t, c, memory.TypeLesson, "stale again")
	waitCached(t, cache, e2.ID)
	if err := c.Clear(t.Context(), memory.TypeLesson); err != nil {
		t.Fatalf("Clear(lesson): %v", err)
	}
	if _, err := c.Get(t.Context(), e2.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after typed clear = %v, want ErrNotFound", err)
	}
}

// waitCached blocks until the async cache admission lands, so a following
// Clear provably has something to invalidate.
func waitCached(t *testing.T, cache *ristretto.EntryCache, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cache.Get(id); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never reached the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
