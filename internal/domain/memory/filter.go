package memory

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// OrderBy selects the sort key for query results.
type OrderBy string

const (
	OrderByTimestamp  OrderBy = "timestamp"
	OrderByImportance OrderBy = "importance"
)

// OrderDir selects the sort direction for query results.
type OrderDir string

const (
	OrderAsc  OrderDir = "asc"
	OrderDesc OrderDir = "desc"
)

// Filter narrows and orders a query. Zero values mean "no constraint".
type Filter struct {
	Types       []Type     `json:"types,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	TaskID      string     `json:"task_id,omitempty"`
	ProjectPath string     `json:"project_path,omitempty"`
	// Tags matches entries carrying at least one of the given tags.
	Tags     []string   `json:"tags,omitempty"`
	After    *time.Time `json:"after,omitempty"`
	Before   *time.Time `json:"before,omitempty"`
	OrderBy  OrderBy    `json:"order_by,omitempty"`
	OrderDir OrderDir   `json:"order_dir,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
}

// SearchOptions restricts a content search.
type SearchOptions struct {
	Types []Type `json:"types,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Matches reports whether the entry passes every predicate of the filter.
// Ordering and pagination are not applied here.
func (f Filter) Matches(e *Entry) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.AgentID != "" && e.Metadata.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.Metadata.TaskID != f.TaskID {
		return false
	}
	if f.ProjectPath != "" && e.Metadata.ProjectPath != f.ProjectPath {
		return false
	}
	if len(f.Tags) > 0 {
		any := false
		for _, t := range f.Tags {
			if slices.Contains(e.Metadata.Tags, t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.After != nil && e.Timestamp.Before(*f.After) {
		return false
	}
	if f.Before != nil && e.Timestamp.After(*f.Before) {
		return false
	}
	return true
}

// MatchesSearch reports whether the entry passes a case-insensitive substring
// search over Content, restricted to the option's type set when non-empty.
func MatchesSearch(e *Entry, text string, opts SearchOptions) bool {
	if len(opts.Types) > 0 && !slices.Contains(opts.Types, e.Type) {
		return false
	}
	return strings.Contains(strings.ToLower(e.Content), strings.ToLower(text))
}

// Sort orders entries by the filter's key and direction in place.
// The sort is stable so per-backend insertion order breaks ties.
func Sort(entries []*Entry, by OrderBy, dir OrderDir) {
	if by == "" {
		by = OrderByTimestamp
	}
	desc := dir != OrderAsc
	sort.SliceStable(entries, func(i, j int) bool {
		var less bool
		switch by {
		case OrderByImportance:
			ri, rj := entries[i].Metadata.Importance.Rank(), entries[j].Metadata.Importance.Rank()
			if ri == rj {
				less = entries[i].Timestamp.Before(entries[j].Timestamp)
			} else {
				less = ri < rj
			}
		default:
			less = entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		if desc {
			return !less && !equalKey(entries[i], entries[j], by)
		}
		return less
	})
}

func equalKey(a, b *Entry, by OrderBy) bool {
	switch by {
	case OrderByImportance:
		return a.Metadata.Importance.Rank() == b.Metadata.Importance.Rank() &&
			a.Timestamp.Equal(b.Timestamp)
	default:
		return a.Timestamp.Equal(b.Timestamp)
	}
}

// Paginate applies offset and limit to an already-sorted result set.
func Paginate(entries []*Entry, limit, offset int) []*Entry {
	if offset > 0 {
		if offset >= len(entries) {
			return nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
