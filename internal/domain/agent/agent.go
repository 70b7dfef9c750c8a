// Package agent defines the Agent domain entity: a stateful unit of delegated
// work with its own message history, tool-call log and iteration budget.
//
// Transitions are guarded explicitly; calling a method from a disallowed
// state returns domain.ErrInvalidTransition. An Agent is owned exclusively by
// its creator (the coordinator or a parent agent) and is not safe for
// unsynchronized concurrent mutation.
package agent

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/hive/internal/domain"
)

// Type identifies an agent specialization.
type Type string

const (
	TypeGeneral    Type = "general"
	TypeFrontend   Type = "frontend"
	TypeBackend    Type = "backend"
	TypeTesting    Type = "testing"
	TypeDatabase   Type = "database"
	TypeDeployment Type = "deployment"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusPaused    Status = "paused"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Role identifies the author of a message turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in an agent's conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCall records a single tool invocation made by the agent.
type ToolCall struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Result    any            `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
}

// Hierarchy tracks an agent's position in the spawn tree.
type Hierarchy struct {
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`
	Depth    int      `json:"depth"`
	MaxDepth int      `json:"max_depth"`
}

// Agent is an LLM-driven worker with explicit lifecycle state.
type Agent struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Name string `json:"name"`

	Status        Status     `json:"status"`
	CurrentTask   string     `json:"current_task,omitempty"`
	Progress      float64    `json:"progress"`
	Iterations    int        `json:"iterations"`
	MaxIterations int        `json:"max_iterations"`
	Messages      []Message  `json:"messages,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	AllowedTools  []string   `json:"allowed_tools,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Hierarchy     Hierarchy  `json:"hierarchy"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Options configures a new agent.
type Options struct {
	SystemPrompt  string
	MaxIterations int
	AllowedTools  []string
	MaxDepth      int
	ParentID      string
	Depth         int
}

// DefaultMaxIterations bounds the iteration budget when none is given.
const DefaultMaxIterations = 50

// New creates an idle agent with a generated id.
func New(typ Type, name string, opts Options) *Agent {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	a := &Agent{
		ID:            uuid.New().String(),
		Type:          typ,
		Name:          name,
		Status:        StatusIdle,
		MaxIterations: maxIter,
		AllowedTools:  slices.Clone(opts.AllowedTools),
		Hierarchy: Hierarchy{
			ParentID: opts.ParentID,
			Depth:    opts.Depth,
			MaxDepth: opts.MaxDepth,
		},
		CreatedAt: time.Now(),
	}
	if opts.SystemPrompt != "" {
		a.AppendMessage(RoleSystem, opts.SystemPrompt)
	}
	return a
}

// Start begins executing the given task. Valid from idle or paused.
func (a *Agent) Start(task string) error {
	if a.Status != StatusIdle && a.Status != StatusPaused {
		return fmt.Errorf("start agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	a.Status = StatusExecuting
	a.CurrentTask = task
	a.StartTime = &now
	a.AppendMessage(RoleUser, task)
	return nil
}

// Pause suspends execution. Valid from executing or waiting.
func (a *Agent) Pause() error {
	if a.Status != StatusExecuting && a.Status != StatusWaiting {
		return fmt.Errorf("pause agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	a.Status = StatusPaused
	return nil
}

// Resume continues a paused agent.
func (a *Agent) Resume() error {
	if a.Status != StatusPaused {
		return fmt.Errorf("resume agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	a.Status = StatusExecuting
	return nil
}

// MarkWaiting parks an executing agent while it waits on children or external
// input.
func (a *Agent) MarkWaiting() error {
	if a.Status != StatusExecuting {
		return fmt.Errorf("wait agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	a.Status = StatusWaiting
	return nil
}

// SetIdle returns a non-terminal agent to idle, clearing its current task.
// Used when a task is handed off to another agent.
func (a *Agent) SetIdle() error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("idle agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	a.Status = StatusIdle
	a.CurrentTask = ""
	return nil
}

// Complete finishes the agent successfully, optionally recording the final
// assistant output as a message turn.
func (a *Agent) Complete(output string) error {
	if a.Status != StatusExecuting && a.Status != StatusWaiting {
		return fmt.Errorf("complete agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	a.Status = StatusCompleted
	a.EndTime = &now
	a.Progress = 100
	if output != "" {
		a.AppendMessage(RoleAssistant, output)
	}
	return nil
}

// Fail terminates the agent with an error.
func (a *Agent) Fail(errMsg string) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("fail agent %s from %s: %w", a.ID, a.Status, domain.ErrInvalidTransition)
	}
	now := time.Now()
	a.Status = StatusFailed
	a.EndTime = &now
	a.LastError = errMsg
	return nil
}

// Cancel terminates the agent from any non-terminal state. Unlike the other
// transitions it never fails in a reachable state; cancelling a terminal
// agent is a no-op.
func (a *Agent) Cancel() {
	if a.Status.IsTerminal() {
		return
	}
	now := time.Now()
	a.Status = StatusCancelled
	a.EndTime = &now
}

// IncrementIteration advances the iteration counter and recomputes progress
// against the iteration budget.
func (a *Agent) IncrementIteration() {
	a.Iterations++
	a.Progress = min(100, float64(a.Iterations)/float64(a.MaxIterations)*100)
}

// AppendMessage appends a turn to the agent's ordered message history.
func (a *Agent) AppendMessage(role Role, content string) {
	a.Messages = append(a.Messages, Message{Role: role, Content: content, Timestamp: time.Now()})
}

// RecordToolCall appends a tool invocation record.
func (a *Agent) RecordToolCall(tool string, args map[string]any, result any, duration time.Duration) ToolCall {
	tc := ToolCall{
		ID:        uuid.New().String(),
		Tool:      tool,
		Args:      args,
		Result:    result,
		Timestamp: time.Now(),
		Duration:  duration,
	}
	a.ToolCalls = append(a.ToolCalls, tc)
	return tc
}

// CanUseTool reports whether the agent may invoke the named tool.
// An empty allow-list permits all tools.
func (a *Agent) CanUseTool(name string) bool {
	if len(a.AllowedTools) == 0 {
		return true
	}
	return slices.Contains(a.AllowedTools, name)
}

// CanSpawnChild reports whether the agent is below its hierarchy depth limit.
func (a *Agent) CanSpawnChild() bool {
	return a.Hierarchy.Depth < a.Hierarchy.MaxDepth
}

// Duration returns elapsed execution time, or zero when never started.
func (a *Agent) Duration() time.Duration {
	if a.StartTime == nil {
		return 0
	}
	if a.EndTime != nil {
		return a.EndTime.Sub(*a.StartTime)
	}
	return time.Since(*a.StartTime)
}
