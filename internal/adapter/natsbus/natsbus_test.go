package natsbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/hive/internal/domain/collab"
)

// testConnect connects to NATS or skips the test if HIVE_TEST_NATS_URL
// is not set. Each test gets its own stream to avoid cross-test traffic.
func testConnect(t *testing.T) *Bus {
	t.Helper()

	url := os.Getenv("HIVE_TEST_NATS_URL")
	if url == "" {
		t.Skip("requires HIVE_TEST_NATS_URL")
	}

	stream := "HIVETEST" + uuid.New().String()[:8]
	b, err := Connect(context.Background(), url, stream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := testConnect(t)

	got := make(chan *collab.Message, 1)
	cancel, err := b.Subscribe("worker-1", nil, func(_ context.Context, msg *collab.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	want := collab.New(collab.TypeSubTask, "lead", "worker-1", map[string]any{"task": "ship it"})
	if err := b.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg.ID != want.ID {
			t.Errorf("got message %s, want %s", msg.ID, want.ID)
		}
		if msg.Type != collab.TypeSubTask {
			t.Errorf("Type = %v, want sub_task", msg.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestBus_BroadcastSkipsSender(t *testing.T) {
	b := testConnect(t)

	senderGot := make(chan struct{}, 1)
	otherGot := make(chan struct{}, 1)

	cancelSender, err := b.Subscribe("lead", nil, func(context.Context, *collab.Message) error {
		senderGot <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe lead: %v", err)
	}
	defer cancelSender()

	cancelOther, err := b.Subscribe("worker-1", nil, func(context.Context, *collab.Message) error {
		otherGot <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe worker-1: %v", err)
	}
	defer cancelOther()

	if err := b.Publish(context.Background(), collab.New(collab.TypeBroadcast, "lead", "", "hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-otherGot:
	case <-time.After(5 * time.Second):
		t.Fatal("worker-1 never received broadcast")
	}
	select {
	case <-senderGot:
		t.Error("sender received its own broadcast")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestBus_FilterDropsOtherTypes(t *testing.T) {
	b := testConnect(t)

	got := make(chan *collab.Message, 2)
	cancel, err := b.Subscribe("worker-1", []collab.MessageType{collab.TypeHandoff}, func(_ context.Context, msg *collab.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := b.Publish(context.Background(), collab.New(collab.TypeSubTask, "lead", "worker-1", nil)); err != nil {
		t.Fatalf("Publish sub_task: %v", err)
	}
	if err := b.Publish(context.Background(), collab.New(collab.TypeHandoff, "lead", "worker-1", nil)); err != nil {
		t.Fatalf("Publish handoff: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Type != collab.TypeHandoff {
			t.Errorf("Type = %v, want handoff (sub_task should be filtered)", msg.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handoff")
	}
}
