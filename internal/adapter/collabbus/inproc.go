// Package collabbus implements the in-process collaboration bus adapter.
// It keeps a bounded history so late joiners and debug surfaces can inspect
// recent traffic.
package collabbus

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kestrelworks/hive/internal/domain/collab"
	"github.com/kestrelworks/hive/internal/port/collabbus"
)

const defaultMaxHistory = 1000

// InProc is a thread-safe in-process collaboration bus.
type InProc struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // agentID -> handlers
	nextID   int
	history  []*collab.Message
	maxHist  int
}

type handlerEntry struct {
	id      int
	filter  []collab.MessageType
	handler collabbus.Handler
}

// NewInProc creates an InProc bus with a 1000-message history cap.
func NewInProc() *InProc {
	return &InProc{
		handlers: make(map[string][]handlerEntry),
		maxHist:  defaultMaxHistory,
	}
}

// Publish delivers a message to its recipient's subscribers. Broadcast
// messages go to every subscriber. Handlers run outside the lock.
func (b *InProc) Publish(ctx context.Context, msg *collab.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}

	var targets []collabbus.Handler
	if msg.Type == collab.TypeBroadcast {
		for id, entries := range b.handlers {
			if id == msg.From {
				continue
			}
			for _, e := range entries {
				if e.wants(msg.Type) {
					targets = append(targets, e.handler)
				}
			}
		}
	} else {
		for _, e := range b.handlers[msg.To] {
			if e.wants(msg.Type) {
				targets = append(targets, e.handler)
			}
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish: %d handler error(s): %v", len(errs), errs[0])
	}
	return nil
}

// Reply sends a payload back to the sender of the original message,
// carrying its correlation id (falling back to the original id).
func (b *InProc) Reply(ctx context.Context, original *collab.Message, typ collab.MessageType, payload any) error {
	reply := collab.New(typ, original.To, original.From, payload)
	reply.CorrelationID = original.CorrelationID
	if reply.CorrelationID == "" {
		reply.CorrelationID = original.ID
	}
	return b.Publish(ctx, reply)
}

// Subscribe registers a handler for messages addressed to agentID.
// An empty filter delivers every type. The returned function cancels
// the subscription.
func (b *InProc) Subscribe(agentID string, filter []collab.MessageType, handler collabbus.Handler) (func(), error) {
	if agentID == "" {
		return nil, fmt.Errorf("subscribe: agent id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[agentID] = append(b.handlers[agentID], handlerEntry{
		id:      id,
		filter:  slices.Clone(filter),
		handler: handler,
	})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[agentID]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, agentID)
		} else {
			b.handlers[agentID] = filtered
		}
	}, nil
}

// Unsubscribe removes all subscriptions for agentID.
func (b *InProc) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
}

// History returns the most recent limit messages visible to agentID:
// direct messages to or from it, plus broadcasts. Results are
// chronological.
func (b *InProc) History(agentID string, limit int) []*collab.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*collab.Message
	for i := len(b.history) - 1; i >= 0; i-- {
		m := b.history[i]
		if m.To == agentID || m.From == agentID || m.Type == collab.TypeBroadcast {
			result = append(result, m)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	slices.Reverse(result)
	return result
}

func (e handlerEntry) wants(typ collab.MessageType) bool {
	return len(e.filter) == 0 || slices.Contains(e.filter, typ)
}
