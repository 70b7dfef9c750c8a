package ristretto

import (
	"testing"

	"github.com/kestrelworks/hive/internal/domain/memory"
)

func newCache(t *testing.T) *EntryCache {
	t.Helper()
	ec, err := New(1<<20, 1e4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(ec.Close)
	return ec
}

func TestSetGetRoundTrip(t *testing.T) {
	ec := newCache(t)

	e := &memory.Entry{ID: "m1", Type: memory.TypeLesson, Content: "pin versions"}
	ec.Set(e)
	ec.c.Wait()

	got, ok := ec.Get("m1")
	if !ok {
		t.Fatal("entry not cached")
	}
	if got.Content != e.Content {
		t.Errorf("Content = %q", got.Content)
	}

	if _, ok := ec.Get("nope"); ok {
		t.Error("unknown id should miss")
	}
}

func TestEntriesAreClonedBothWays(t *testing.T) {
	ec := newCache(t)

	e := &memory.Entry{ID: "m1", Type: memory.TypeLesson, Content: "original",
		Metadata: memory.Metadata{Tags: []string{"build"}}}
	ec.Set(e)
	ec.c.Wait()

	// Mutating the original after Set must not affect the cache.
	e.Content = "mutated"
	e.Metadata.Tags[0] = "mutated"

	got, ok := ec.Get("m1")
	if !ok {
		t.Fatal("entry not cached")
	}
	if got.Content != "original" || got.Metadata.Tags[0] != "build" {
		t.Errorf("cache shares state with the caller: %+v", got)
	}

	// Mutating a returned entry must not affect later reads.
	got.Content = "mutated again"
	again, _ := ec.Get("m1")
	if again.Content != "original" {
		t.Error("returned entries must be copies")
	}
}

func TestDelete(t *testing.T) {
	ec := newCache(t)

	ec.Set(&memory.Entry{ID: "m1", Type: memory.TypeAction, Content: "x"})
	ec.c.Wait()
	ec.Delete("m1")

	if _, ok := ec.Get("m1"); ok {
		t.Error("deleted entry still cached")
	}
}

func TestClear(t *testing.T) {
	ec := newCache(t)

	ec.Set(&memory.Entry{ID: "m1", Type: memory.TypeAction, Content: "x"})
	ec.Set(&memory.Entry{ID: "m2", Type: memory.TypeAction, Content: "y"})
	ec.c.Wait()
	ec.Clear()

	for _, id := range []string{"m1", "m2"} {
		if _, ok := ec.Get(id); ok {
			t.Errorf("entry %s survived Clear", id)
		}
	}
}

func TestSetWithTTL(t *testing.T) {
	ec := newCache(t)

	ec.Set(&memory.Entry{ID: "m1", Type: memory.TypeSession, Content: "x", TTL: 300})
	ec.c.Wait()

	if _, ok := ec.Get("m1"); !ok {
		t.Error("entry with a TTL should still be served before expiry")
	}
}
