package task

import (
	"errors"
	"testing"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/agent"
)

func TestNewDefaults(t *testing.T) {
	tk := New("write the parser", "")

	if tk.ID == "" {
		t.Error("no id assigned")
	}
	if tk.Status != StatusPending {
		t.Errorf("Status = %v, want pending", tk.Status)
	}
	if tk.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal default", tk.Priority)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	tk := New("t", PriorityHigh)

	if err := tk.Queue(); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if err := tk.Start("a1", agent.TypeBackend); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tk.Status != StatusInProgress || len(tk.Attempts) != 1 {
		t.Fatalf("after start: status=%v attempts=%d", tk.Status, len(tk.Attempts))
	}
	if err := tk.Complete("done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tk.Progress != 100 || tk.Output != "done" {
		t.Errorf("progress=%v output=%q", tk.Progress, tk.Output)
	}
	a := tk.LastAttempt()
	if a == nil || !a.Success || a.EndTime == nil {
		t.Errorf("attempt not closed successfully: %+v", a)
	}
}

func TestStartFromPendingSkipsQueue(t *testing.T) {
	tk := New("t", PriorityNormal)
	if err := tk.Start("a1", agent.TypeGeneral); err != nil {
		t.Fatalf("Start from pending: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	tk := New("t", PriorityNormal)

	if err := tk.Complete("x"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Complete from pending = %v, want ErrInvalidTransition", err)
	}
	if err := tk.Fail("x"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Fail from pending = %v, want ErrInvalidTransition", err)
	}

	_ = tk.Queue()
	if err := tk.Queue(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("double Queue = %v, want ErrInvalidTransition", err)
	}
}

func TestFailAndReset(t *testing.T) {
	tk := New("t", PriorityNormal)
	_ = tk.Start("a1", agent.TypeBackend)
	if err := tk.Fail("boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !tk.CanRetry() {
		t.Fatal("failed task should be retryable")
	}
	a := tk.LastAttempt()
	if a.Success || a.Error != "boom" {
		t.Errorf("attempt = %+v", a)
	}

	if err := tk.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if tk.Status != StatusPending || tk.AgentID != "" || tk.StartTime != nil {
		t.Errorf("reset left state behind: %+v", tk)
	}
	if len(tk.Attempts) != 1 {
		t.Errorf("attempt history lost on reset: %d", len(tk.Attempts))
	}

	// A fresh start opens a second attempt.
	_ = tk.Start("a2", agent.TypeTesting)
	if len(tk.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(tk.Attempts))
	}
}

func TestBlockUnblock(t *testing.T) {
	tk := New("t", PriorityNormal)

	tk.Block("dep-1")
	tk.Block("dep-2")
	tk.Block("dep-1") // idempotent
	if tk.Status != StatusBlocked || len(tk.BlockedBy) != 2 {
		t.Fatalf("status=%v blockers=%v", tk.Status, tk.BlockedBy)
	}

	if err := tk.Start("a1", agent.TypeGeneral); !errors.Is(err, domain.ErrBlocked) {
		t.Errorf("Start while blocked = %v, want ErrBlocked", err)
	}

	tk.Unblock("dep-1")
	if tk.Status != StatusBlocked {
		t.Error("one blocker left, status should stay blocked")
	}
	tk.Unblock("dep-2")
	if tk.Status != StatusPending {
		t.Errorf("status = %v, want pending after last blocker clears", tk.Status)
	}
	// Unknown ids are a no-op.
	tk.Unblock("nope")
}

func TestCancel(t *testing.T) {
	tk := New("t", PriorityNormal)
	_ = tk.Start("a1", agent.TypeGeneral)

	tk.Cancel()
	if tk.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled", tk.Status)
	}
	a := tk.LastAttempt()
	if a.Success || a.Error != "cancelled" {
		t.Errorf("attempt = %+v", a)
	}

	// Cancelling a terminal task is a no-op.
	tk.Cancel()
	if len(tk.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(tk.Attempts))
	}
}

func TestAddSubtask(t *testing.T) {
	tk := New("t", PriorityNormal)
	tk.AddSubtask("s1")
	tk.AddSubtask("s1")
	tk.AddSubtask("s2")
	if len(tk.SubtaskIDs) != 2 {
		t.Errorf("SubtaskIDs = %v, want two distinct ids", tk.SubtaskIDs)
	}
}
