// Package task defines the Task domain entity: a unit of work with explicit
// lifecycle state, dependency bookkeeping and a per-start attempt history.
package task

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/agent"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority orders tasks for scheduling.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DependencyType distinguishes hard blockers from soft requirements.
type DependencyType string

const (
	DependencyBlocks   DependencyType = "blocks"
	DependencyRequires DependencyType = "requires"
)

// Dependency links a task to another it depends on.
type Dependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
}

// Attempt records one execution attempt by an agent. Exactly one attempt is
// opened per Start and closed by the matching Complete or Fail.
type Attempt struct {
	AgentID   string     `json:"agent_id"`
	AgentType agent.Type `json:"agent_type"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Output    string     `json:"output,omitempty"`
}

// Task is a unit of delegated work.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
	Progress float64  `json:"progress"`

	AgentType agent.Type `json:"agent_type,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`

	Dependencies []Dependency `json:"dependencies,omitempty"`
	BlockedBy    []string     `json:"blocked_by,omitempty"`
	Attempts     []Attempt    `json:"attempts,omitempty"`

	ParentTaskID string   `json:"parent_task_id,omitempty"`
	SubtaskIDs   []string `json:"subtask_ids,omitempty"`

	Output    string     `json:"output,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// New creates a pending task with a generated id.
func New(description string, priority Priority) *Task {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
}

// Queue marks a pending task ready for pickup.
func (t *Task) Queue() error {
	if t.Status != StatusPending {
		return fmt.Errorf("queue task %s from %s: %w", t.ID, t.Status, domain.ErrInvalidTransition)
	}
	t.Status = StatusQueued
	return nil
}

// Start assigns the task to an agent and opens a new attempt.
// Valid from queued or pending, and only with no remaining blockers.
func (t *Task) Start(agentID string, agentType agent.Type) error {
	if len(t.BlockedBy) > 0 {
		return fmt.Errorf("start task %s: %w", t.ID, domain.ErrBlocked)
	}
	if t.Status != StatusQueued && t.Status != StatusPending {
		return fmt.Errorf("start task %s from %s: %w", t.ID, t.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	t.Status = StatusInProgress
	t.AgentID = agentID
	t.AgentType = agentType
	t.StartTime = &now
	t.Attempts = append(t.Attempts, Attempt{
		AgentID:   agentID,
		AgentType: agentType,
		StartTime: now,
	})
	return nil
}

// Complete finishes an in-progress task and closes the open attempt.
func (t *Task) Complete(output string) error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("complete task %s from %s: %w", t.ID, t.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.Progress = 100
	t.Output = output
	t.EndTime = &now
	t.closeAttempt(func(a *Attempt) {
		a.Success = true
		a.Output = output
		a.EndTime = &now
	})
	return nil
}

// Fail marks an in-progress task failed and closes the open attempt.
func (t *Task) Fail(errMsg string) error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("fail task %s from %s: %w", t.ID, t.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	t.Status = StatusFailed
	t.EndTime = &now
	t.closeAttempt(func(a *Attempt) {
		a.Success = false
		a.Error = errMsg
		a.EndTime = &now
	})
	return nil
}

// Cancel terminates the task from any non-terminal state. Like agent
// cancellation it is intentionally exception-free; cancelling a terminal task
// is a no-op. An open attempt is closed as unsuccessful.
func (t *Task) Cancel() {
	if t.Status.IsTerminal() {
		return
	}
	now := time.Now()
	t.Status = StatusCancelled
	t.EndTime = &now
	t.closeAttempt(func(a *Attempt) {
		a.Success = false
		a.Error = "cancelled"
		a.EndTime = &now
	})
}

// Block adds a blocker and forces the task into the blocked status.
func (t *Task) Block(taskID string) {
	if !slices.Contains(t.BlockedBy, taskID) {
		t.BlockedBy = append(t.BlockedBy, taskID)
	}
	t.Status = StatusBlocked
}

// Unblock removes a blocker; unknown ids are a no-op. Clearing the last
// blocker always returns the task to pending, never to a prior in-progress
// state, so callers must re-queue it.
func (t *Task) Unblock(taskID string) {
	t.BlockedBy = slices.DeleteFunc(t.BlockedBy, func(id string) bool { return id == taskID })
	if len(t.BlockedBy) == 0 && t.Status == StatusBlocked {
		t.Status = StatusPending
	}
}

// CanRetry reports whether the task is in a state Reset accepts.
func (t *Task) CanRetry() bool {
	return t.Status == StatusFailed
}

// Reset returns a failed task to pending for a fresh retry cycle, clearing
// progress, timing, assignment and output. The attempt history is preserved.
func (t *Task) Reset() error {
	if t.Status != StatusFailed {
		return fmt.Errorf("reset task %s from %s: %w", t.ID, t.Status, domain.ErrInvalidTransition)
	}
	t.Status = StatusPending
	t.Progress = 0
	t.AgentID = ""
	t.AgentType = ""
	t.Output = ""
	t.StartTime = nil
	t.EndTime = nil
	return nil
}

// AddSubtask links a child task id.
func (t *Task) AddSubtask(taskID string) {
	if !slices.Contains(t.SubtaskIDs, taskID) {
		t.SubtaskIDs = append(t.SubtaskIDs, taskID)
	}
}

// LastAttempt returns the most recent attempt, or nil when none exist.
func (t *Task) LastAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

func (t *Task) closeAttempt(fn func(*Attempt)) {
	if last := t.LastAttempt(); last != nil && last.EndTime == nil {
		fn(last)
	}
}
