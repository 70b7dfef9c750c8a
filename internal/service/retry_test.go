package service

import (
	"testing"

	"github.com/kestrelworks/hive/internal/domain/agent"
)

func attempts(n int, typ agent.Type, errText string) []FailedAttempt {
	out := make([]FailedAttempt, n)
	for i := range out {
		out[i] = FailedAttempt{AgentType: typ, Error: errText}
	}
	return out
}

func TestAnalyzeEscalatesAtCeiling(t *testing.T) {
	ra := NewRetryAnalyzer(5)

	d := ra.Analyze(agent.TypeBackend, "anything at all", attempts(5, agent.TypeBackend, "x"))
	if d.Strategy != StrategyEscalate {
		t.Fatalf("Strategy = %v, want escalate", d.Strategy)
	}
	if d.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", d.Confidence)
	}

	// Even an obviously retryable error escalates at the ceiling.
	d = ra.Analyze(agent.TypeBackend, "ECONNRESET socket hang up", attempts(6, agent.TypeBackend, "x"))
	if d.Strategy != StrategyEscalate {
		t.Errorf("Strategy = %v, want escalate regardless of error text", d.Strategy)
	}
}

func TestAnalyzeTestFailureGoesToTesting(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	d := ra.Analyze(agent.TypeBackend, "Tests failed: expected 200 to equal 500", nil)
	if d.Strategy != StrategyDifferentAgent {
		t.Fatalf("Strategy = %v, want different_agent", d.Strategy)
	}
	if d.TargetAgentType != agent.TypeTesting {
		t.Errorf("Target = %v, want testing", d.TargetAgentType)
	}
	if d.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", d.Confidence)
	}
}

func TestAnalyzeTransientNetworkRetriesSameAgent(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	d := ra.Analyze(agent.TypeBackend, "ECONNRESET socket hang up", nil)
	if d.Strategy != StrategySameAgent {
		t.Fatalf("Strategy = %v, want same_agent", d.Strategy)
	}
	if d.TargetAgentType != "" {
		t.Errorf("Target = %v, want none for plain retry", d.TargetAgentType)
	}
	if d.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", d.Confidence)
	}
}

func TestAnalyzeSkipsPatternTargetingFailedType(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	// A test-assertion error from the testing agent itself must not be
	// bounced back to testing.
	d := ra.Analyze(agent.TypeTesting, "assertion failed in suite", nil)
	if d.Strategy == StrategyDifferentAgent && d.TargetAgentType == agent.TypeTesting {
		t.Errorf("decision routed back to the failed type: %+v", d)
	}
}

func TestAnalyzePermissionEscalates(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	d := ra.Analyze(agent.TypeGeneral, "permission denied: /etc/shadow", nil)
	if d.Strategy != StrategyEscalate {
		t.Errorf("Strategy = %v, want escalate", d.Strategy)
	}
}

func TestAnalyzeSyntaxErrorAltersApproach(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	d := ra.Analyze(agent.TypeBackend, "syntax error near unexpected token", nil)
	if d.Strategy != StrategySameAgentDifferent {
		t.Fatalf("Strategy = %v, want same_agent_different", d.Strategy)
	}
	if d.ModifiedPrompt == "" {
		t.Error("expected a modified prompt for the altered approach")
	}
}

func TestAnalyzeTimeoutDecomposes(t *testing.T) {
	ra := NewRetryAnalyzer(0)

	d := ra.Analyze(agent.TypeGeneral, "operation timed out after 300s", nil)
	if d.Strategy != StrategyDecompose {
		t.Errorf("Strategy = %v, want decompose", d.Strategy)
	}
}

func TestAnalyzeFallbackProgression(t *testing.T) {
	ra := NewRetryAnalyzer(0)
	unknown := "weird inexplicable thing happened"

	// First failures: retry with an altered approach.
	d := ra.Analyze(agent.TypeFrontend, unknown, attempts(1, agent.TypeFrontend, unknown))
	if d.Strategy != StrategySameAgentDifferent {
		t.Fatalf("after 1 attempt: Strategy = %v, want same_agent_different", d.Strategy)
	}

	// Two same-type failures: reassign to an alternative.
	d = ra.Analyze(agent.TypeFrontend, unknown, attempts(2, agent.TypeFrontend, unknown))
	if d.Strategy != StrategyDifferentAgent {
		t.Fatalf("after 2 attempts: Strategy = %v, want different_agent", d.Strategy)
	}
	if d.TargetAgentType == agent.TypeFrontend || d.TargetAgentType == "" {
		t.Errorf("Target = %v, want an alternative type", d.TargetAgentType)
	}
}

func TestAnalyzeLastResortEscalate(t *testing.T) {
	// Raise the ceiling so the hard cap does not trigger first.
	ra := NewRetryAnalyzer(10)
	unknown := "weird inexplicable thing happened"

	// Exhaust every alternative in the frontend transition table.
	prior := []FailedAttempt{
		{AgentType: agent.TypeFrontend, Error: unknown},
		{AgentType: agent.TypeFrontend, Error: unknown},
		{AgentType: agent.TypeBackend, Error: unknown},
		{AgentType: agent.TypeTesting, Error: unknown},
		{AgentType: agent.TypeGeneral, Error: unknown},
	}

	d := ra.Analyze(agent.TypeFrontend, unknown, prior)
	if d.Strategy != StrategyEscalate {
		t.Fatalf("Strategy = %v, want escalate", d.Strategy)
	}
	if d.Confidence != 0.4 {
		t.Errorf("Confidence = %v, want 0.4 (last resort)", d.Confidence)
	}
}

func TestFindBestAlternativeAgentScoring(t *testing.T) {
	// Error full of database vocabulary should pick the database type
	// from the backend transition table.
	alt, ok := FindBestAlternativeAgent(agent.TypeBackend, "sql query failed: schema mismatch in migration", nil)
	if !ok {
		t.Fatal("expected an alternative")
	}
	if alt != agent.TypeDatabase {
		t.Errorf("alternative = %v, want database", alt)
	}

	// Types already tried are excluded.
	alt, ok = FindBestAlternativeAgent(agent.TypeBackend, "sql query failed", []FailedAttempt{
		{AgentType: agent.TypeDatabase},
	})
	if !ok {
		t.Fatal("expected an alternative")
	}
	if alt == agent.TypeDatabase {
		t.Error("already-tried type should be excluded")
	}

	// Everything tried: no alternative.
	_, ok = FindBestAlternativeAgent(agent.TypeDatabase, "x", []FailedAttempt{
		{AgentType: agent.TypeBackend},
		{AgentType: agent.TypeGeneral},
	})
	if ok {
		t.Error("expected no alternative when the whole table was tried")
	}
}

func TestShouldDecompose(t *testing.T) {
	if ShouldDecompose(attempts(1, agent.TypeGeneral, "timeout")) {
		t.Error("one attempt should never decompose")
	}
	if !ShouldDecompose(attempts(2, agent.TypeGeneral, "operation timeout")) {
		t.Error("repeated timeout errors should decompose")
	}
	if !ShouldDecompose(attempts(2, agent.TypeGeneral, "heap exhausted")) {
		t.Error("memory pressure should decompose")
	}
	if ShouldDecompose(attempts(3, agent.TypeGeneral, "some other error")) {
		t.Error("unrelated errors with low iterations should not decompose")
	}

	high := []FailedAttempt{
		{AgentType: agent.TypeGeneral, Error: "e", IterationsUsed: 40},
		{AgentType: agent.TypeGeneral, Error: "e", IterationsUsed: 35},
	}
	if !ShouldDecompose(high) {
		t.Error("mean iterations above 30 should decompose")
	}
}
