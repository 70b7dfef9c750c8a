// Package jsonstore implements a file-backed memory store with debounced
// flush-on-write.
//
// The persisted layout is a single JSON document: an array of entries with
// ISO-8601 timestamps. Mutations mark the store dirty and (re)schedule a
// background flush after a quiet period, bounding data loss on ungraceful
// shutdown to roughly one debounce window. Callers needing synchronous
// durability call Save.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kestrelworks/hive/internal/adapter/memstore"
	"github.com/kestrelworks/hive/internal/domain/memory"
)

// DefaultDebounce is the flush quiet period when none is configured.
const DefaultDebounce = time.Second

// Store is a JSON-file-backed memory store. The working set lives in an
// embedded in-memory store; the file is the durable copy.
type Store struct {
	mem      *memstore.InMemory
	path     string
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool
}

// New creates a store persisting to path. The store is empty until
// Initialize loads the file. A non-positive debounce uses DefaultDebounce.
func New(path string, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		mem:      memstore.NewInMemory(),
		path:     path,
		debounce: debounce,
	}
}

// Initialize loads the backing file. A missing or corrupt file starts the
// store empty rather than failing, favoring availability over strict
// durability.
func (s *Store) Initialize(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("memory file unreadable, starting empty", "path", s.path, "error", err)
		}
		return nil
	}

	var entries []*memory.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("memory file corrupt, starting empty", "path", s.path, "error", err)
		return nil
	}

	s.mem.Restore(entries)
	slog.Debug("memory file loaded", "path", s.path, "entries", len(entries))
	return nil
}

// Add assigns an id and timestamp, stores the entry and schedules a flush.
func (s *Store) Add(ctx context.Context, e *memory.Entry) (string, error) {
	id, err := s.mem.Add(ctx, e)
	if err != nil {
		return "", err
	}
	s.markDirty()
	return id, nil
}

// Get returns the entry, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	return s.mem.Get(ctx, id)
}

// Update applies a partial patch and schedules a flush.
func (s *Store) Update(ctx context.Context, id string, patch memory.Patch) error {
	if err := s.mem.Update(ctx, id, patch); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Delete removes the entry and schedules a flush; unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.mem.Delete(ctx, id); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Query returns matching entries ordered per the filter.
func (s *Store) Query(ctx context.Context, f memory.Filter) ([]*memory.Entry, error) {
	return s.mem.Query(ctx, f)
}

// Search performs a case-insensitive substring match over Content.
func (s *Store) Search(ctx context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error) {
	return s.mem.Search(ctx, text, opts)
}

// Clear removes all entries, or only the given types, and schedules a flush.
func (s *Store) Clear(ctx context.Context, types ...memory.Type) error {
	if err := s.mem.Clear(ctx, types...); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Count returns the number of entries matching the filter (nil = all).
func (s *Store) Count(ctx context.Context, f *memory.Filter) (int, error) {
	return s.mem.Count(ctx, f)
}

// Save forces an immediate synchronous flush, cancelling any pending timer.
func (s *Store) Save(_ context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dirty = false
	s.mu.Unlock()

	return s.flush()
}

// Close flushes pending writes and stops the debounce timer. The store
// remains readable but schedules no further flushes.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Save(ctx)
}

// markDirty flags unsaved changes and (re)schedules the debounced flush.
func (s *Store) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.flushTimer)
}

// flushTimer is the debounce callback. Save failures are logged, not
// propagated; in-memory state is kept as the source of truth.
func (s *Store) flushTimer() {
	s.mu.Lock()
	s.timer = nil
	wasDirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if !wasDirty {
		return
	}
	if err := s.flush(); err != nil {
		slog.Error("memory flush failed", "path", s.path, "error", err)
	}
}

// flush writes the current snapshot atomically (temp file + rename).
func (s *Store) flush() error {
	entries := s.mem.Snapshot()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close memory file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
