package service

import (
	"regexp"
	"strings"

	"github.com/kestrelworks/hive/internal/domain/agent"
	"github.com/kestrelworks/hive/internal/domain/task"
)

// Complexity estimates how involved a decomposition is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Decomposition is the result of splitting a task into subtasks. Subtasks
// are strictly sequential: each depends on (and is blocked by) the one
// before it.
type Decomposition struct {
	OriginalTask        *task.Task   `json:"original_task"`
	Subtasks            []*task.Task `json:"subtasks"`
	EstimatedComplexity Complexity   `json:"estimated_complexity"`
}

// splitPattern recognizes one linguistic task shape and breaks it into
// fragments.
type splitPattern struct {
	re    *regexp.Regexp
	split func(m []string) []string
}

var splitPatterns = []splitPattern{
	// "X and test ..." -> [X, test ...]
	{
		re: regexp.MustCompile(`(?i)^(.+?)\s+and\s+(test.*)$`),
		split: func(m []string) []string {
			return []string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2])}
		},
	},
	// "X and deploy ..." -> [X, deploy ...]
	{
		re: regexp.MustCompile(`(?i)^(.+?)\s+and\s+(deploy.*)$`),
		split: func(m []string) []string {
			return []string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2])}
		},
	},
	// "X, then Y" -> [X, Y]
	{
		re: regexp.MustCompile(`(?i)^(.+?),?\s+then\s+(.+)$`),
		split: func(m []string) []string {
			return []string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2])}
		},
	},
}

// agentKeywords maps task vocabulary to the specialist that owns it.
// Evaluated in order; first hit wins.
var agentKeywords = []struct {
	agentType agent.Type
	words     []string
}{
	{agent.TypeTesting, []string{"test", "verify", "assert", "coverage"}},
	{agent.TypeDatabase, []string{"database", "sql", "schema", "migration", "query"}},
	{agent.TypeDeployment, []string{"deploy", "docker", "container", "release", "pipeline"}},
	{agent.TypeFrontend, []string{"ui", "css", "component", "page", "render", "frontend"}},
	{agent.TypeBackend, []string{"api", "endpoint", "server", "service", "backend"}},
}

// Decompose splits a task into sequential subtasks. When no linguistic
// pattern applies it falls back to a generic analyze/implement/verify
// chain.
func Decompose(t *task.Task, context string) *Decomposition {
	fragments := splitDescription(t.Description)

	var subtasks []*task.Task
	if len(fragments) > 1 {
		for _, frag := range fragments {
			st := task.New(frag, t.Priority)
			st.AgentType = InferAgentType(frag)
			st.ParentTaskID = t.ID
			subtasks = append(subtasks, st)
		}
	} else {
		subtasks = genericChain(t, context)
	}

	chainSequential(subtasks)
	for _, st := range subtasks {
		t.AddSubtask(st.ID)
	}

	return &Decomposition{
		OriginalTask:        t,
		Subtasks:            subtasks,
		EstimatedComplexity: estimateComplexity(len(subtasks)),
	}
}

// InferAgentType picks the specialist for a task description via keyword
// lookup; unmatched descriptions go to the general agent.
func InferAgentType(description string) agent.Type {
	lower := strings.ToLower(description)
	for _, k := range agentKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.agentType
			}
		}
	}
	return agent.TypeGeneral
}

func splitDescription(desc string) []string {
	if parts := strings.Split(desc, ";"); len(parts) > 1 {
		var out []string
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 1 {
			return out
		}
	}
	for _, p := range splitPatterns {
		m := p.re.FindStringSubmatch(desc)
		if len(m) > 2 {
			return p.split(m)
		}
	}
	return nil
}

// genericChain is the fixed fallback decomposition: analyze, implement,
// verify.
func genericChain(t *task.Task, context string) []*task.Task {
	desc := t.Description
	if context != "" {
		desc = desc + " (" + context + ")"
	}

	analyze := task.New("Analyze and plan: "+desc, t.Priority)
	analyze.AgentType = agent.TypeGeneral
	analyze.ParentTaskID = t.ID

	implement := task.New("Implement: "+desc, t.Priority)
	implement.AgentType = InferAgentType(t.Description)
	implement.ParentTaskID = t.ID

	verify := task.New("Verify the result of: "+desc, t.Priority)
	verify.AgentType = agent.TypeTesting
	verify.ParentTaskID = t.ID

	return []*task.Task{analyze, implement, verify}
}

// chainSequential wires each subtask to depend on and be blocked by its
// predecessor.
func chainSequential(subtasks []*task.Task) {
	for i := 1; i < len(subtasks); i++ {
		prev := subtasks[i-1]
		subtasks[i].Dependencies = append(subtasks[i].Dependencies, task.Dependency{
			TaskID: prev.ID,
			Type:   task.DependencyBlocks,
		})
		subtasks[i].Block(prev.ID)
	}
}

func estimateComplexity(n int) Complexity {
	switch {
	case n > 3:
		return ComplexityHigh
	case n > 1:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}
