// Package collabbus defines the collaboration bus port (interface).
//
// The coordinator is a client of this bus, not its implementation: the
// in-process adapter serves single-process hosts and the NATS adapter serves
// brokered deployments.
package collabbus

import (
	"context"

	"github.com/kestrelworks/hive/internal/domain/collab"
)

// Handler processes a message delivered to a subscribed agent.
type Handler func(ctx context.Context, msg *collab.Message) error

// Bus is the port interface for agent-to-agent messaging.
type Bus interface {
	// Publish delivers a message to its recipient's subscribers, or to all
	// subscribers for broadcast messages.
	Publish(ctx context.Context, msg *collab.Message) error

	// Reply sends a payload back to the sender of the original message,
	// carrying its correlation id.
	Reply(ctx context.Context, original *collab.Message, typ collab.MessageType, payload any) error

	// Subscribe registers a handler for messages addressed to agentID.
	// An empty filter delivers every type. The returned function cancels
	// the subscription.
	Subscribe(agentID string, filter []collab.MessageType, handler Handler) (cancel func(), err error)

	// Unsubscribe removes all subscriptions for agentID.
	Unsubscribe(agentID string)
}
