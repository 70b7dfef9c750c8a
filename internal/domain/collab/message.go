// Package collab provides the domain model for agent-to-agent collaboration
// messages carried by the collaboration bus.
package collab

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of collaboration message.
type MessageType string

const (
	TypeSubTask      MessageType = "sub_task"
	TypeHandoff      MessageType = "handoff"
	TypeHelpRequest  MessageType = "help_request"
	TypeSubComplete  MessageType = "sub_complete"
	TypeStatusUpdate MessageType = "status_update"
	TypeBroadcast    MessageType = "broadcast"
)

// Priority orders message delivery urgency.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is a single collaboration message between agents.
// For TypeBroadcast the To field is ignored and all subscribers receive it.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to,omitempty"`
	Payload       any         `json:"payload,omitempty"`
	Priority      Priority    `json:"priority,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// New creates a message with a generated id and current timestamp.
func New(typ MessageType, from, to string, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      typ,
		From:      from,
		To:        to,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// Validate checks that a message has the fields delivery requires.
func (m *Message) Validate() error {
	if m.Type == "" {
		return errors.New("message type is required")
	}
	if m.From == "" {
		return errors.New("message sender is required")
	}
	if m.To == "" && m.Type != TypeBroadcast {
		return errors.New("message recipient is required for non-broadcast messages")
	}
	return nil
}

// SubTaskPayload is carried by sub_task messages addressed to freshly
// spawned child agents.
type SubTaskPayload struct {
	Task     string `json:"task"`
	ParentID string `json:"parent_id"`
}

// HandoffPayload is carried by handoff messages.
type HandoffPayload struct {
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HelpRequestPayload is carried by help_request messages.
type HelpRequestPayload struct {
	Description        string `json:"description"`
	RequiredCapability string `json:"required_capability,omitempty"`
}

// HelpRejectedPayload is the reply when no helper qualifies.
type HelpRejectedPayload struct {
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// SubCompletePayload is carried by sub_complete messages from child agents.
type SubCompletePayload struct {
	TaskID  string `json:"task_id,omitempty"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
}
