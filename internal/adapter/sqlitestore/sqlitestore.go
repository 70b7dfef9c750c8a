// Package sqlitestore implements a durable memory backend on SQLite.
// It is the zero-infrastructure option for the durable memory route.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	type         TEXT NOT NULL,
	content      TEXT NOT NULL,
	agent_id     TEXT NOT NULL DEFAULT '',
	task_id      TEXT NOT NULL DEFAULT '',
	project_path TEXT NOT NULL DEFAULT '',
	importance   TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	embedding    TEXT,
	ts           TEXT NOT NULL,
	ttl          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_task ON memories(task_id);
`

// Store is a SQLite-backed memory store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite supports one concurrent writer; a single connection serializes
	// writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.Content,
		e.Metadata.AgentID, e.Metadata.TaskID, e.Metadata.ProjectPath,
		string(e.Metadata.Importance), meta, embedding,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.TTL,
	)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return e.ID, nil
}

// Get returns the entry, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	const q = selectColumns + ` WHERE id = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory entry %s: %w", id, domain.ErrNotFound)
	}
	return e, err
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
		SET type = ?, content = ?, agent_id = ?, task_id = ?, project_path = ?,
		    importance = ?, metadata = ?, embedding = ?, ttl = ?
		WHERE id = ?`
	_, err = s.db.ExecContext(ctx, q,
		string(e.Type), e.Content,
		e.Metadata.AgentID, e.Metadata.TaskID, e.Metadata.ProjectPath,
		string(e.Metadata.Importance), meta, embedding, e.TTL, id,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

// Delete removes the entry; unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// Query returns matching entries ordered per the filter. Indexed predicates
// run in SQL; tag intersection, ordering and pagination run on the fetched
// set through the shared domain helpers so every backend sorts identically.
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
	q := selectColumns + ` WHERE instr(lower(content), lower(?)) > 0`
	args := []any{text}
	if len(opts.Types) > 0 {
		q += ` AND type IN (` + placeholders(len(opts.Types)) + `)`
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
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
	if len(types) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM memories`)
		return err
	}
	q := `DELETE FROM memories WHERE type IN (` + placeholders(len(types)) + `)`
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Count returns the number of entries matching the filter (nil = all).
func (s *Store) Count(ctx context.Context, f *memory.Filter) (int, error) {
	if f == nil {
		var n int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
		return n, err
	}
	if len(f.Tags) > 0 {
		entries, err := s.Query(ctx, withoutPagination(*f))
		return len(entries), err
	}
	q := `SELECT COUNT(*) FROM memories`
	where, args := buildWhere(*f)
	var n int
	err := s.db.QueryRowContext(ctx, q+where, args...).Scan(&n)
	return n, err
}

const selectColumns = `
	SELECT id, type, content, agent_id, task_id, project_path, importance, metadata, embedding, ts, ttl
	FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*memory.Entry, error) {
	var (
		e         memory.Entry
		typ       string
		imp       string
		meta      string
		embedding sql.NullString
		ts        string
	)
	if err := row.Scan(&e.ID, &typ, &e.Content,
		&e.Metadata.AgentID, &e.Metadata.TaskID, &e.Metadata.ProjectPath,
		&imp, &meta, &embedding, &ts, &e.TTL); err != nil {
		return nil, err
	}

	e.Type = memory.Type(typ)
	e.Metadata.Importance = memory.Importance(imp)
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode memory metadata: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode memory embedding: %w", err)
		}
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse memory timestamp: %w", err)
	}
	e.Timestamp = parsed
	return &e, nil
}

func (s *Store) queryEntries(ctx context.Context, q string, args ...any) ([]*memory.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func buildWhere(f memory.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.Types) > 0 {
		conds = append(conds, `type IN (`+placeholders(len(f.Types))+`)`)
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.AgentID != "" {
		conds = append(conds, `agent_id = ?`)
		args = append(args, f.AgentID)
	}
	if f.TaskID != "" {
		conds = append(conds, `task_id = ?`)
		args = append(args, f.TaskID)
	}
	if f.ProjectPath != "" {
		conds = append(conds, `project_path = ?`)
		args = append(args, f.ProjectPath)
	}
	if f.After != nil {
		conds = append(conds, `ts >= ?`)
		args = append(args, f.After.UTC().Format(time.RFC3339Nano))
	}
	if f.Before != nil {
		conds = append(conds, `ts <= ?`)
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func withoutPagination(f memory.Filter) memory.Filter {
	f.Limit = 0
	f.Offset = 0
	return f
}

func encodeJSON(e *memory.Entry) (meta string, embedding any, err error) {
	m, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", nil, fmt.Errorf("encode memory metadata: %w", err)
	}
	if len(e.Embedding) == 0 {
		return string(m), nil, nil
	}
	emb, err := json.Marshal(e.Embedding)
	if err != nil {
		return "", nil, fmt.Errorf("encode memory embedding: %w", err)
	}
	return string(m), string(emb), nil
}
