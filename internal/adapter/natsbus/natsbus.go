// Package natsbus implements the collaboration bus port on NATS JetStream,
// for deployments where agents live in more than one process.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kestrelworks/hive/internal/domain/collab"
	"github.com/kestrelworks/hive/internal/port/collabbus"
)

const (
	agentSubjectPrefix = "hive.agents."
	broadcastSubject   = "hive.broadcast"
)

// Bus implements collabbus.Bus over NATS JetStream. Each agent gets a
// subject under hive.agents.<id>; broadcasts go to hive.broadcast.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	mu      sync.Mutex
	nextID  int
	cancels map[string]map[int]func()
}

// Connect establishes a connection and ensures the stream exists.
func Connect(ctx context.Context, url, stream string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{"hive.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Bus{nc: nc, js: js, stream: stream, cancels: make(map[string]map[int]func())}, nil
}

// Publish delivers a message to its recipient's subject, or to the
// broadcast subject for broadcast messages.
func (b *Bus) Publish(ctx context.Context, msg *collab.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	subject := broadcastSubject
	if msg.Type != collab.TypeBroadcast {
		subject = agentSubjectPrefix + msg.To
	}
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Reply sends a payload back to the sender of the original message,
// carrying its correlation id (falling back to the original id).
func (b *Bus) Reply(ctx context.Context, original *collab.Message, typ collab.MessageType, payload any) error {
	reply := collab.New(typ, original.To, original.From, payload)
	reply.CorrelationID = original.CorrelationID
	if reply.CorrelationID == "" {
		reply.CorrelationID = original.ID
	}
	return b.Publish(ctx, reply)
}

// Subscribe registers a handler for messages addressed to agentID plus
// broadcasts. An empty filter delivers every type. The returned function
// cancels the subscription.
func (b *Bus) Subscribe(agentID string, filter []collab.MessageType, handler collabbus.Handler) (func(), error) {
	if agentID == "" {
		return nil, fmt.Errorf("subscribe: agent id is required")
	}

	ctx := context.Background()
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		FilterSubjects: []string{agentSubjectPrefix + agentID, broadcastSubject},
		AckPolicy:      jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	filter = slices.Clone(filter)
	cons, err := consumer.Consume(func(natsMsg jetstream.Msg) {
		var msg collab.Message
		if err := json.Unmarshal(natsMsg.Data(), &msg); err != nil {
			slog.Error("collab message decode failed", "subject", natsMsg.Subject(), "error", err)
			_ = natsMsg.Term()
			return
		}
		// Broadcasts come back to the sender too; drop them, along with
		// types outside the subscription filter.
		if msg.From == agentID || (len(filter) > 0 && !slices.Contains(filter, msg.Type)) {
			_ = natsMsg.Ack()
			return
		}
		if err := handler(context.Background(), &msg); err != nil {
			slog.Error("collab handler failed", "type", msg.Type, "to", agentID, "error", err)
			if nakErr := natsMsg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := natsMsg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	cancel := b.track(agentID, cons.Stop)
	return cancel, nil
}

// Unsubscribe stops every consumer registered for agentID.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	stops := b.cancels[agentID]
	delete(b.cancels, agentID)
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	for id, stops := range b.cancels {
		for _, stop := range stops {
			stop()
		}
		delete(b.cancels, id)
	}
	b.mu.Unlock()

	b.nc.Close()
	return nil
}

// track records a consumer stop for agentID and returns a cancel that
// stops it once and forgets it.
func (b *Bus) track(agentID string, stop func()) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.cancels[agentID] == nil {
		b.cancels[agentID] = make(map[int]func())
	}
	b.cancels[agentID][id] = stop
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			b.mu.Lock()
			delete(b.cancels[agentID], id)
			if len(b.cancels[agentID]) == 0 {
				delete(b.cancels, agentID)
			}
			b.mu.Unlock()
		})
	}
}
