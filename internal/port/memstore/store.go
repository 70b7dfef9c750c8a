// Package memstore defines the memory store port (interface).
package memstore

import (
	"context"

	"github.com/kestrelworks/hive/internal/domain/memory"
)

// Store is the port interface every memory backend implements.
//
// Add assigns the entry's ID and Timestamp; both are immutable afterwards.
// Get returns domain.ErrNotFound for unknown ids. Update applies a partial
// patch and returns domain.ErrNotFound for unknown ids. Delete is a no-op
// for unknown ids. Expiry is advisory: stores return expired entries and
// never auto-evict.
type Store interface {
	Add(ctx context.Context, e *memory.Entry) (string, error)
	Get(ctx context.Context, id string) (*memory.Entry, error)
	Update(ctx context.Context, id string, patch memory.Patch) error
	Delete(ctx context.Context, id string) error

	// Query returns entries matching the filter, ordered and paginated.
	Query(ctx context.Context, f memory.Filter) ([]*memory.Entry, error)

	// Search performs a case-insensitive substring match over Content.
	Search(ctx context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error)

	// Clear removes all entries, or only those of the given types.
	Clear(ctx context.Context, types ...memory.Type) error

	// Count returns the number of entries matching the filter (nil = all).
	Count(ctx context.Context, f *memory.Filter) (int, error)
}

// Initializer is implemented by backends that load state before first use.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Flusher is implemented by backends that buffer writes. Save forces a
// synchronous flush; Close flushes and releases resources.
type Flusher interface {
	Save(ctx context.Context) error
	Close(ctx context.Context) error
}
