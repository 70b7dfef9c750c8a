package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
	"github.com/kestrelworks/hive/internal/resilience"
)

// Store is the pgx-backed durable memory store. All queries go through the
// circuit breaker so a failing database sheds load instead of piling up.
type Store struct {
	pool    *pgxpool.Pool
	breaker *resilience.Breaker
}

// NewStore creates a Store around an existing pool.
func NewStore(pool *pgxpool.Pool, breaker *resilience.Breaker) *Store {
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 30*time.Second)
	}
	return &Store{pool: pool, breaker: breaker}
}

// BreakerState reports the circuit state for health endpoints.
func (s *Store) BreakerState() string {
	return s.breaker.State()
}

// Add assigns an id and timestamp and inserts the entry.
func (s *Store) Add(ctx context.Context, e *memory.Entry) (string, error) {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now()

	meta, embedding, err := encodeJSON(e)
	if err != nil {
		return "", err
	}

	const q = `
		INSERT INTO memories (id, type, content, agent_id, task_id, project_path, importance, metadata, embedding, ts, ttl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	err = s.breaker.Execute(func() error {
		_, execErr := s.pool.Exec(ctx, q,
			e.ID, string(e.Type), e.Content,
			e.Metadata.AgentID, e.Metadata.TaskID, e.Metadata.ProjectPath,
			string(e.Metadata.Importance), meta, embedding, e.Timestamp, e.TTL,
		)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return e.ID, nil
}

// Get returns the entry, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	const q = selectColumns + ` WHERE id = $1`

	var e *memory.Entry
	err := s.breaker.Execute(func() error {
		var scanErr error
		e, scanErr = scanEntry(s.pool.QueryRow(ctx, q, id))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memory entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return e, nil
}

// Update applies a partial patch; ID and Timestamp are never touched.
func (s *Store) Update(ctx context.Context, id string, patch memory.Patch) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	patch.Apply(e)

	meta, embedding, err := encodeJSON(e)
	if err != nil {
		return err
	}

	const q = `
		UPDATE memories
		SET type = $1, content = $2, agent_id = $3, task_id = $4, project_path = $5,
		    importance = $6, metadata = $7, embedding = $8, ttl = $9
		WHERE id = $10`
	err = s.breaker.Execute(func() error {
		_, execErr := s.pool.Exec(ctx, q,
			string(e.Type), e.Content,
			e.Metadata.AgentID, e.Metadata.TaskID, e.Metadata.ProjectPath,
			string(e.Metadata.Importance), meta, embedding, e.TTL, id,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

// Delete removes the entry; unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.breaker.Execute(func() error {
		_, execErr := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// Query returns matching entries ordered per the filter. Indexed predicates
// run in SQL; tag intersection, ordering and pagination run through the
// shared domain helpers so every backend sorts identically.
func (s *Store) Query(ctx context.Context, f memory.Filter) ([]*memory.Entry, error) {
	q := selectColumns
	where, args := buildWhere(f)
	q += where + ` ORDER BY seq`

	entries, err := s.queryEntries(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	if len(f.Tags) > 0 {
		entries = slices.DeleteFunc(entries, func(e *memory.Entry) bool {
			return !f.Matches(e)
		})
	}
	memory.Sort(entries, f.OrderBy, f.OrderDir)
	return memory.Paginate(entries, f.Limit, f.Offset), nil
}

// Search performs a case-insensitive substring match over Content.
func (s *Store) Search(ctx context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error) {
	q := selectColumns + ` WHERE content ILIKE '%' || $1 || '%'`
	args := []any{text}
	if len(opts.Types) > 0 {
		q += ` AND type = ANY($2)`
		args = append(args, typeStrings(opts.Types))
	}
	q += ` ORDER BY seq`

	entries, err := s.queryEntries(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	memory.Sort(entries, memory.OrderByTimestamp, memory.OrderDesc)
	return memory.Paginate(entries, opts.Limit, 0), nil
}

// Clear removes all entries, or only those of the given types.
func (s *Store) Clear(ctx context.Context, types ...memory.Type) error {
	return s.breaker.Execute(func() error {
		if len(types) == 0 {
			_, err := s.pool.Exec(ctx, `DELETE FROM memories`)
			return err
		}
		_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE type = ANY($1)`, typeStrings(types))
		return err
	})
}

// Count returns the number of entries matching the filter (nil = all).
func (s *Store) Count(ctx context.Context, f *memory.Filter) (int, error) {
	if f != nil && len(f.Tags) > 0 {
		entries, err := s.Query(ctx, withoutPagination(*f))
		return len(entries), err
	}

	q := `SELECT COUNT(*) FROM memories`
	var args []any
	if f != nil {
		where, whereArgs := buildWhere(*f)
		q += where
		args = whereArgs
	}

	var n int
	err := s.breaker.Execute(func() error {
		return s.pool.QueryRow(ctx, q, args...).Scan(&n)
	})
	return n, err
}

const selectColumns = `
	SELECT id, type, content, agent_id, task_id, project_path, importance, metadata, embedding, ts, ttl
	FROM memories`

func scanEntry(row pgx.Row) (*memory.Entry, error) {
	var (
		e         memory.Entry
		typ       string
		imp       string
		meta      []byte
		embedding []byte
	)
	if err := row.Scan(&e.ID, &typ, &e.Content,
		&e.Metadata.AgentID, &e.Metadata.TaskID, &e.Metadata.ProjectPath,
		&imp, &meta, &embedding, &e.Timestamp, &e.TTL); err != nil {
		return nil, err
	}

	e.Type = memory.Type(typ)
	e.Metadata.Importance = memory.Importance(imp)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode memory metadata: %w", err)
		}
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode memory embedding: %w", err)
		}
	}
	return &e, nil
}

func (s *Store) queryEntries(ctx context.Context, q string, args ...any) ([]*memory.Entry, error) {
	var entries []*memory.Entry
	err := s.breaker.Execute(func() error {
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	return entries, nil
}

func buildWhere(f memory.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }

	if len(f.Types) > 0 {
		args = append(args, typeStrings(f.Types))
		conds = append(conds, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if f.AgentID != "" {
		conds = append(conds, `agent_id = `+next())
		args = append(args, f.AgentID)
	}
	if f.TaskID != "" {
		conds = append(conds, `task_id = `+next())
		args = append(args, f.TaskID)
	}
	if f.ProjectPath != "" {
		conds = append(conds, `project_path = `+next())
		args = append(args, f.ProjectPath)
	}
	if f.After != nil {
		conds = append(conds, `ts >= `+next())
		args = append(args, *f.After)
	}
	if f.Before != nil {
		conds = append(conds, `ts <= `+next())
		args = append(args, *f.Before)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func typeStrings(types []memory.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func withoutPagination(f memory.Filter) memory.Filter {
	f.Limit = 0
	f.Offset = 0
	return f
}

func encodeJSON(e *memory.Entry) (meta []byte, embedding []byte, err error) {
	meta, err = json.Marshal(e.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode memory metadata: %w", err)
	}
	if len(e.Embedding) == 0 {
		return meta, nil, nil
	}
	embedding, err = json.Marshal(e.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("encode memory embedding: %w", err)
	}
	return meta, embedding, nil
}
