// Package memory provides the domain model for typed agent memory entries
// routed across pluggable storage backends.
package memory

import (
	"maps"
	"slices"
	"time"
)

// Type categorizes a memory entry. Volatile types live in the in-memory
// backend by default; durable types are routed to persistent storage.
type Type string

const (
	TypeAction       Type = "action"
	TypeError        Type = "error"
	TypeSuccess      Type = "success"
	TypePlan         Type = "plan"
	TypeDecision     Type = "decision"
	TypeContext      Type = "context"
	TypeLesson       Type = "lesson"
	TypeSession      Type = "session"
	TypeConversation Type = "conversation"
)

// ValidTypes lists all valid memory types.
var ValidTypes = []Type{
	TypeAction, TypeError, TypeSuccess, TypePlan, TypeDecision,
	TypeContext, TypeLesson, TypeSession, TypeConversation,
}

// ValidType reports whether t is a recognized memory type.
func ValidType(t Type) bool {
	return slices.Contains(ValidTypes, t)
}

// VolatileTypes are routed to the in-memory backend by the default composite.
var VolatileTypes = []Type{TypeAction, TypeError, TypeSuccess, TypeContext, TypeConversation}

// DurableTypes are routed to the persistent backend by the default composite.
var DurableTypes = []Type{TypeLesson, TypeDecision, TypePlan, TypeSession}

// Importance weights an entry for retrieval ordering.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Rank returns the fixed ordering rank for an importance level.
// An unset or unknown importance ranks as medium.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 4
	case ImportanceHigh:
		return 3
	case ImportanceLow:
		return 1
	default:
		return 2
	}
}

// Metadata holds the recognized optional attributes of an entry plus an open
// extension map for anything callers attach beyond them.
type Metadata struct {
	AgentID     string         `json:"agent_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	ProjectPath string         `json:"project_path,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Importance  Importance     `json:"importance,omitempty"`
	Source      string         `json:"source,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	c := m
	c.Tags = slices.Clone(m.Tags)
	if m.Extra != nil {
		c.Extra = maps.Clone(m.Extra)
	}
	return c
}

// Entry is a single typed, timestamped memory record.
// ID and Timestamp are assigned by the store on Add and never mutated after.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float64 `json:"embedding,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// TTL is an advisory lifetime in seconds; zero means no expiry.
	// Stores never auto-evict; callers check IsExpired.
	TTL int `json:"ttl,omitempty"`
}

// IsExpired reports whether the entry's advisory TTL has elapsed at now.
func (e *Entry) IsExpired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(time.Duration(e.TTL) * time.Second))
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Metadata = e.Metadata.Clone()
	c.Embedding = slices.Clone(e.Embedding)
	return &c
}

// Patch is a partial update applied by Store.Update. Nil fields are left
// untouched. ID and Timestamp are not patchable.
type Patch struct {
	Type      *Type      `json:"type,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
	Embedding *[]float64 `json:"embedding,omitempty"`
	TTL       *int       `json:"ttl,omitempty"`
}

// Apply mutates e in place with the non-nil fields of the patch.
func (p Patch) Apply(e *Entry) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata.Clone()
	}
	if p.Embedding != nil {
		e.Embedding = slices.Clone(*p.Embedding)
	}
	if p.TTL != nil {
		e.TTL = *p.TTL
	}
}
