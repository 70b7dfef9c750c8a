// Package bus provides the typed in-process event bus that decouples the
// coordinator, memory router and host observers.
//
// Delivery is synchronous, in subscription order, at-most-once. Handler
// panics are recovered and logged so one bad subscriber cannot break
// emission to the others.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event. The set is closed; emitters use
// these constants rather than free-form strings.
type EventType string

const (
	// Agent lifecycle.
	AgentStarted   EventType = "agent:started"
	AgentCompleted EventType = "agent:completed"
	AgentFailed    EventType = "agent:failed"
	AgentProgress  EventType = "agent:progress"

	// Task lifecycle.
	TaskCreated   EventType = "task:created"
	TaskStarted   EventType = "task:started"
	TaskCompleted EventType = "task:completed"
	TaskFailed    EventType = "task:failed"
	TaskBlocked   EventType = "task:blocked"

	// Tool execution.
	ToolCalled EventType = "tool:called"
	ToolResult EventType = "tool:result"

	// Collaboration.
	CollabSpawn    EventType = "collab:spawn"
	CollabHandoff  EventType = "collab:handoff"
	CollabComplete EventType = "collab:complete"
	CollabHelp     EventType = "collab:help"

	// Memory router.
	MemoryAdded   EventType = "memory:added"
	MemoryUpdated EventType = "memory:updated"
	MemoryDeleted EventType = "memory:deleted"

	// Observability.
	SystemError EventType = "system:error"

	// Wildcard receives every emitted event. Subscription only; emitting on
	// it is not allowed.
	Wildcard EventType = "*"
)

// Event is a single delivered event.
type Event struct {
	Type          EventType `json:"type"`
	Payload       any       `json:"payload,omitempty"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Handler processes a delivered event.
type Handler func(Event)

// EmitOpts annotates an emission.
type EmitOpts struct {
	Source        string
	CorrelationID string
}

// DefaultWaitTimeout bounds WaitFor when no explicit timeout is given.
const DefaultWaitTimeout = 30 * time.Second

type subscription struct {
	id      string
	handler Handler
	once    bool
}

// Bus is a typed publish/subscribe hub. The zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subs        map[EventType][]subscription
	defaultWait time.Duration
}

// New creates an empty bus.
func New() *Bus {
	return NewWithTimeout(DefaultWaitTimeout)
}

// NewWithTimeout creates an empty bus whose WaitFor falls back to the given
// timeout instead of DefaultWaitTimeout. Non-positive values use the default.
func NewWithTimeout(wait time.Duration) *Bus {
	if wait <= 0 {
		wait = DefaultWaitTimeout
	}
	return &Bus{subs: make(map[EventType][]subscription), defaultWait: wait}
}

// Emit delivers the event synchronously to all current subscribers of its
// type, then to wildcard subscribers. Handler panics are contained.
func (b *Bus) Emit(typ EventType, payload any, opts ...EmitOpts) {
	ev := Event{Type: typ, Payload: payload, Timestamp: time.Now()}
	if len(opts) > 0 {
		ev.Source = opts[0].Source
		ev.CorrelationID = opts[0].CorrelationID
	}

	b.mu.Lock()
	targets := make([]subscription, 0, len(b.subs[typ])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[typ]...)
	targets = append(targets, b.subs[Wildcard]...)
	// Drop one-shot subscriptions before releasing the lock so a handler
	// emitting recursively cannot fire them twice.
	b.removeOnce(typ)
	b.removeOnce(Wildcard)
	b.mu.Unlock()

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "event", string(ev.Type), "panic", r)
		}
	}()
	s.handler(ev)
}

func (b *Bus) removeOnce(typ EventType) {
	kept := b.subs[typ][:0]
	for _, s := range b.subs[typ] {
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, typ)
	} else {
		b.subs[typ] = kept
	}
}

// On subscribes a handler to an event type. The returned function
// unsubscribes it.
func (b *Bus) On(typ EventType, h Handler) (unsubscribe func()) {
	return b.subscribe(typ, h, false)
}

// Once subscribes a handler that is removed after its first delivery.
func (b *Bus) Once(typ EventType, h Handler) (unsubscribe func()) {
	return b.subscribe(typ, h, true)
}

// OnMany subscribes one handler to several event types; the returned
// function removes all of the underlying subscriptions.
func (b *Bus) OnMany(types []EventType, h Handler) (unsubscribe func()) {
	cancels := make([]func(), 0, len(types))
	for _, t := range types {
		cancels = append(cancels, b.subscribe(t, h, false))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (b *Bus) subscribe(typ EventType, h Handler, once bool) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.subs[typ] = append(b.subs[typ], subscription{id: id, handler: h, once: once})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subs[typ]
		kept := entries[:0]
		for _, s := range entries {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, typ)
		} else {
			b.subs[typ] = kept
		}
	}
}

// WaitFor blocks until the next event of the given type arrives, the timeout
// elapses, or ctx is cancelled. A non-positive timeout uses the bus default.
// This is the bus's only suspension point.
func (b *Bus) WaitFor(ctx context.Context, typ EventType, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		timeout = b.defaultWait
	}

	ch := make(chan Event, 1)
	cancel := b.Once(typ, func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return Event{}, fmt.Errorf("wait for %s: timeout after %s", typ, timeout)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// SubscriberCount returns the number of active subscriptions for a type.
func (b *Bus) SubscriberCount(typ EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[typ])
}
