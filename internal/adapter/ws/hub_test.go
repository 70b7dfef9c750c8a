package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kestrelworks/hive/internal/bus"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	// Wait for the hub to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return msg
}

func TestBroadcastReachesClient(t *testing.T) {
	h := NewHub()
	c := dial(t, h)

	h.Broadcast(context.Background(), Message{
		Type:    "agent.started",
		Payload: json.RawMessage(`{"agent_id":"a1"}`),
	})

	msg := readMessage(t, c)
	if msg.Type != "agent.started" {
		t.Errorf("Type = %q, want agent.started", msg.Type)
	}
	if string(msg.Payload) != `{"agent_id":"a1"}` {
		t.Errorf("Payload = %s", msg.Payload)
	}
}

func TestMirrorRelaysBusEvents(t *testing.T) {
	h := NewHub()
	b := bus.New()
	stop := h.Mirror(b)
	defer stop()

	c := dial(t, h)

	b.Emit(bus.TaskCreated, map[string]any{"task_id": "t1"})

	msg := readMessage(t, c)
	if msg.Type != string(bus.TaskCreated) {
		t.Errorf("Type = %q, want %s", msg.Type, bus.TaskCreated)
	}

	var ev struct {
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	if ev.Payload["task_id"] != "t1" {
		t.Errorf("payload = %+v", ev.Payload)
	}
}

func TestDisconnectRemovesConnection(t *testing.T) {
	h := NewHub()
	c := dial(t, h)

	_ = c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
