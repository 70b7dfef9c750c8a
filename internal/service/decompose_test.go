package service

import (
	"testing"

	"github.com/kestrelworks/hive/internal/domain/agent"
	"github.com/kestrelworks/hive/internal/domain/task"
)

func TestDecomposeAndTestPattern(t *testing.T) {
	parent := task.New("Implement the login endpoint and test it end to end", task.PriorityHigh)

	d := Decompose(parent, "")
	if len(d.Subtasks) != 2 {
		t.Fatalf("got %d subtasks, want 2", len(d.Subtasks))
	}
	if d.Subtasks[1].AgentType != agent.TypeTesting {
		t.Errorf("second subtask type = %v, want testing", d.Subtasks[1].AgentType)
	}
	if d.EstimatedComplexity != ComplexityMedium {
		t.Errorf("complexity = %v, want medium", d.EstimatedComplexity)
	}
}

func TestDecomposeSemicolonList(t *testing.T) {
	parent := task.New("design the schema; write the migration; deploy the change; verify it", task.PriorityNormal)

	d := Decompose(parent, "")
	if len(d.Subtasks) != 4 {
		t.Fatalf("got %d subtasks, want 4", len(d.Subtasks))
	}
	if d.EstimatedComplexity != ComplexityHigh {
		t.Errorf("complexity = %v, want high for >3 subtasks", d.EstimatedComplexity)
	}
	if d.Subtasks[1].AgentType != agent.TypeDatabase {
		t.Errorf("migration subtask type = %v, want database", d.Subtasks[1].AgentType)
	}
	if d.Subtasks[2].AgentType != agent.TypeDeployment {
		t.Errorf("deploy subtask type = %v, want deployment", d.Subtasks[2].AgentType)
	}
}

func TestDecomposeGenericFallback(t *testing.T) {
	parent := task.New("refactor the api gateway", task.PriorityNormal)

	d := Decompose(parent, "keep interfaces stable")
	if len(d.Subtasks) != 3 {
		t.Fatalf("got %d subtasks, want the generic 3-step chain", len(d.Subtasks))
	}
	if d.Subtasks[0].AgentType != agent.TypeGeneral {
		t.Errorf("analyze step type = %v, want general", d.Subtasks[0].AgentType)
	}
	if d.Subtasks[1].AgentType != agent.TypeBackend {
		t.Errorf("implement step type = %v, want backend (inferred from 'api')", d.Subtasks[1].AgentType)
	}
	if d.Subtasks[2].AgentType != agent.TypeTesting {
		t.Errorf("verify step type = %v, want testing", d.Subtasks[2].AgentType)
	}
}

func TestDecomposeChainsSequentially(t *testing.T) {
	parent := task.New("anything at all", task.PriorityNormal)

	d := Decompose(parent, "")
	for i, st := range d.Subtasks {
		if st.ParentTaskID != parent.ID {
			t.Errorf("subtask %d missing parent link", i)
		}
		if i == 0 {
			if len(st.BlockedBy) != 0 {
				t.Errorf("first subtask should be unblocked, blocked by %v", st.BlockedBy)
			}
			continue
		}
		prev := d.Subtasks[i-1]
		if len(st.Dependencies) != 1 || st.Dependencies[0].TaskID != prev.ID {
			t.Errorf("subtask %d should depend on its predecessor", i)
		}
		if st.Status != task.StatusBlocked {
			t.Errorf("subtask %d status = %v, want blocked", i, st.Status)
		}
	}

	if len(parent.SubtaskIDs) != len(d.Subtasks) {
		t.Errorf("parent links %d subtasks, want %d", len(parent.SubtaskIDs), len(d.Subtasks))
	}

	// Unblocking in order releases each subtask back to pending.
	second := d.Subtasks[1]
	second.Unblock(d.Subtasks[0].ID)
	if second.Status != task.StatusPending {
		t.Errorf("unblocked subtask status = %v, want pending", second.Status)
	}
}

func TestInferAgentType(t *testing.T) {
	cases := []struct {
		desc string
		want agent.Type
	}{
		{"write unit tests for the parser", agent.TypeTesting},
		{"add a database index", agent.TypeDatabase},
		{"deploy to staging", agent.TypeDeployment},
		{"fix the css layout on the settings screen", agent.TypeFrontend},
		{"expose a new api endpoint", agent.TypeBackend},
		{"summarize recent progress", agent.TypeGeneral},
	}
	for _, c := range cases {
		if got := InferAgentType(c.desc); got != c.want {
			t.Errorf("InferAgentType(%q) = %v, want %v", c.desc, got, c.want)
		}
	}
}
