package memstore

import (
	"errors"
	"testing"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
)

func add(t *testing.T, s *InMemory, typ memory.Type, content string) *memory.Entry {
	t.Helper()
	e := &memory.Entry{Type: typ, Content: content}
	if _, err := s.Add(t.Context(), e); err != nil {
		t.Fatalf("Add(%s): %v", content, err)
	}
	return e
}

func TestAddAssignsIDAndTimestamp(t *testing.T) {
	s := NewInMemory()

	e := add(t, s, memory.TypeAction, "x")
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("entry not stamped: %+v", e)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewInMemory()
	e := add(t, s, memory.TypeAction, "original")

	got, err := s.Get(t.Context(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Content = "mutated"

	again, _ := s.Get(t.Context(), e.ID)
	if again.Content != "original" {
		t.Error("mutating a returned entry must not affect the store")
	}

	if _, err := s.Get(t.Context(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestUpdatePreservesIDAndTimestamp(t *testing.T) {
	s := NewInMemory()
	e := add(t, s, memory.TypeAction, "old")

	content := "new"
	if err := s.Update(t.Context(), e.ID, memory.Patch{Content: &content}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.Get(t.Context(), e.ID)
	if got.Content != "new" {
		t.Errorf("Content = %q, want new", got.Content)
	}
	if got.ID != e.ID || !got.Timestamp.Equal(e.Timestamp) {
		t.Error("update must not touch id or timestamp")
	}

	if err := s.Update(t.Context(), "nope", memory.Patch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update unknown = %v, want ErrNotFound", err)
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	s := NewInMemory()
	e := add(t, s, memory.TypeAction, "x")

	if err := s.Delete(t.Context(), e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(t.Context(), e.ID); err != nil {
		t.Errorf("Delete again: %v", err)
	}
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	s := NewInMemory()
	for range 3 {
		add(t, s, memory.TypeAction, "a")
	}
	add(t, s, memory.TypeError, "e")

	got, err := s.Query(t.Context(), memory.Filter{
		Types: []memory.Type{memory.TypeAction},
		Limit: 2, Offset: 1,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestQueryInsertionOrderBreaksTies(t *testing.T) {
	s := NewInMemory()
	first := add(t, s, memory.TypeAction, "first")
	second := add(t, s, memory.TypeAction, "second")

	got, _ := s.Query(t.Context(), memory.Filter{OrderDir: memory.OrderAsc})
	if len(got) != 2 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("ascending query should preserve insertion order for close timestamps")
	}
}

func TestQueryReturnsExpiredEntries(t *testing.T) {
	s := NewInMemory()
	e := add(t, s, memory.TypeAction, "x")
	ttl := 1
	_ = s.Update(t.Context(), e.ID, memory.Patch{TTL: &ttl})

	got, _ := s.Query(t.Context(), memory.Filter{})
	if len(got) != 1 {
		t.Error("expiry is advisory; stores must still return the entry")
	}
}

func TestSearch(t *testing.T) {
	s := NewInMemory()
	add(t, s, memory.TypeAction, "Deploy failed on staging")
	add(t, s, memory.TypeLesson, "deploys need a canary")
	add(t, s, memory.TypePlan, "unrelated")

	got, err := s.Search(t.Context(), "DEPLOY", memory.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d matches, want 2", len(got))
	}

	got, _ = s.Search(t.Context(), "deploy", memory.SearchOptions{Types: []memory.Type{memory.TypeLesson}, Limit: 1})
	if len(got) != 1 || got[0].Type != memory.TypeLesson {
		t.Errorf("restricted search = %+v", got)
	}
}

func TestClearAndCount(t *testing.T) {
	s := NewInMemory()
	add(t, s, memory.TypeAction, "a")
	add(t, s, memory.TypeError, "e")
	add(t, s, memory.TypeSuccess, "s")

	if err := s.Clear(t.Context(), memory.TypeAction, memory.TypeError); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Count(t.Context(), nil); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	n, _ := s.Count(t.Context(), &memory.Filter{Types: []memory.Type{memory.TypeSuccess}})
	if n != 1 {
		t.Errorf("filtered count = %d, want 1", n)
	}

	if err := s.Clear(t.Context()); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if n, _ := s.Count(t.Context(), nil); n != 0 {
		t.Errorf("count after clear all = %d, want 0", n)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewInMemory()
	a := add(t, s, memory.TypeAction, "a")
	b := add(t, s, memory.TypeError, "b")

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != a.ID || snap[1].ID != b.ID {
		t.Fatalf("snapshot = %+v", snap)
	}

	restored := NewInMemory()
	restored.Restore(snap)

	got, _ := restored.Get(t.Context(), b.ID)
	if got.Content != "b" {
		t.Errorf("restored entry = %+v", got)
	}
	// Restore preserves insertion order.
	all, _ := restored.Query(t.Context(), memory.Filter{OrderDir: memory.OrderAsc})
	if all[0].ID != a.ID {
		t.Error("restore lost insertion order")
	}
}
