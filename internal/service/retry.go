package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kestrelworks/hive/internal/domain/agent"
)

// Strategy is the retry decision for a failed attempt.
type Strategy string

const (
	// StrategySameAgent retries with the same agent unchanged.
	StrategySameAgent Strategy = "same_agent"
	// StrategySameAgentDifferent retries with the same agent and an
	// altered approach prompt.
	StrategySameAgentDifferent Strategy = "same_agent_different"
	// StrategyDifferentAgent reassigns the task to another agent type.
	StrategyDifferentAgent Strategy = "different_agent"
	// StrategyDecompose splits the task into subtasks.
	StrategyDecompose Strategy = "decompose"
	// StrategyEscalate surfaces the failure to a human.
	StrategyEscalate Strategy = "escalate"
)

// FailedAttempt records one failed execution for retry analysis.
type FailedAttempt struct {
	AgentID        string     `json:"agent_id,omitempty"`
	AgentType      agent.Type `json:"agent_type"`
	Error          string     `json:"error"`
	ToolsAttempted []string   `json:"tools_attempted,omitempty"`
	IterationsUsed int        `json:"iterations_used,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Decision is the analyzer's verdict on how to proceed after a failure.
type Decision struct {
	Strategy        Strategy   `json:"strategy"`
	TargetAgentType agent.Type `json:"target_agent_type,omitempty"`
	Reason          string     `json:"reason"`
	Confidence      float64    `json:"confidence"`
	ModifiedPrompt  string     `json:"modified_prompt,omitempty"`
}

// DefaultMaxTotalRetries is the hard attempt ceiling before escalation.
const DefaultMaxTotalRetries = 5

// errorPattern is one row of the ordered dispatch table. A zero target
// means "pick via FindBestAlternativeAgent" for different_agent rows.
type errorPattern struct {
	re         *regexp.Regexp
	strategy   Strategy
	target     agent.Type
	confidence float64
	reason     string
}

// errorPatterns is evaluated top to bottom; the first match wins, except
// that a row whose target equals the failed agent type is skipped.
var errorPatterns = []errorPattern{
	{
		re:         regexp.MustCompile(`(?i)missing capability|not capable|cannot handle|unsupported operation`),
		strategy:   StrategyDifferentAgent,
		confidence: 0.8,
		reason:     "agent lacks a required capability",
	},
	{
		re:         regexp.MustCompile(`(?i)permission denied|access denied|unauthorized|forbidden`),
		strategy:   StrategyEscalate,
		confidence: 0.9,
		reason:     "permission problem needs human intervention",
	},
	{
		re:         regexp.MustCompile(`(?i)syntax error|type error|undefined variable|cannot find name|is not defined`),
		strategy:   StrategySameAgentDifferent,
		confidence: 0.75,
		reason:     "code-level error, same agent should try another approach",
	},
	{
		re:         regexp.MustCompile(`(?i)test(s)?\s+(fail|failed|failing)|test failure|assertion|expected .* to (be|equal)`),
		strategy:   StrategyDifferentAgent,
		target:     agent.TypeTesting,
		confidence: 0.85,
		reason:     "failing tests call for the testing specialist",
	},
	{
		re:         regexp.MustCompile(`(?i)build failed|compilation (error|failed)|compile error|cannot build`),
		strategy:   StrategySameAgentDifferent,
		confidence: 0.75,
		reason:     "build broke, same agent should rework the change",
	},
	{
		re:         regexp.MustCompile(`(?i)timeout|timed out|out of memory|heap|resource exhausted|too large`),
		strategy:   StrategyDecompose,
		confidence: 0.7,
		reason:     "resource or time ceiling suggests the task is too big",
	},
	{
		re:         regexp.MustCompile(`(?i)econnreset|econnrefused|socket hang up|network error|connection (closed|refused|reset)|temporarily unavailable`),
		strategy:   StrategySameAgent,
		confidence: 0.8,
		reason:     "transient network error, plain retry",
	},
	{
		re:         regexp.MustCompile(`(?i)database|sql|deadlock|constraint violation|duplicate key`),
		strategy:   StrategyDifferentAgent,
		target:     agent.TypeDatabase,
		confidence: 0.8,
		reason:     "database error calls for the database specialist",
	},
	{
		re:         regexp.MustCompile(`(?i)deploy|docker|kubernetes|container|helm`),
		strategy:   StrategyDifferentAgent,
		target:     agent.TypeDeployment,
		confidence: 0.8,
		reason:     "deployment error calls for the deployment specialist",
	},
	{
		re:         regexp.MustCompile(`(?i)\bcss\b|\bdom\b|render|component|layout|stylesheet`),
		strategy:   StrategyDifferentAgent,
		target:     agent.TypeFrontend,
		confidence: 0.8,
		reason:     "UI error calls for the frontend specialist",
	},
	{
		re:         regexp.MustCompile(`(?i)\bapi\b|endpoint|server error|http 5\d\d|internal server`),
		strategy:   StrategyDifferentAgent,
		target:     agent.TypeBackend,
		confidence: 0.8,
		reason:     "server-side error calls for the backend specialist",
	},
}

// capability describes what an agent type is good at, for alternative
// selection scoring.
type capability struct {
	priority int
	skills   []string
}

var capabilities = map[agent.Type]capability{
	agent.TypeGeneral:    {priority: 1, skills: []string{"analyze", "plan", "research"}},
	agent.TypeFrontend:   {priority: 2, skills: []string{"css", "ui", "component", "render", "dom"}},
	agent.TypeBackend:    {priority: 2, skills: []string{"api", "server", "endpoint", "http"}},
	agent.TypeTesting:    {priority: 2, skills: []string{"test", "assert", "coverage", "mock"}},
	agent.TypeDatabase:   {priority: 2, skills: []string{"sql", "query", "schema", "migration"}},
	agent.TypeDeployment: {priority: 2, skills: []string{"docker", "deploy", "container", "pipeline"}},
}

// transitions lists the alternative agent types considered for each failed
// type, in preference order (ties in scoring resolve to this order).
var transitions = map[agent.Type][]agent.Type{
	agent.TypeGeneral:    {agent.TypeBackend, agent.TypeFrontend, agent.TypeTesting},
	agent.TypeFrontend:   {agent.TypeBackend, agent.TypeTesting, agent.TypeGeneral},
	agent.TypeBackend:    {agent.TypeDatabase, agent.TypeTesting, agent.TypeGeneral},
	agent.TypeTesting:    {agent.TypeBackend, agent.TypeFrontend, agent.TypeGeneral},
	agent.TypeDatabase:   {agent.TypeBackend, agent.TypeGeneral},
	agent.TypeDeployment: {agent.TypeBackend, agent.TypeGeneral},
}

// RetryAnalyzer decides how to proceed after agent failures.
type RetryAnalyzer struct {
	maxTotalRetries int
}

// NewRetryAnalyzer creates an analyzer. maxTotalRetries <= 0 uses the
// default ceiling of 5.
func NewRetryAnalyzer(maxTotalRetries int) *RetryAnalyzer {
	if maxTotalRetries <= 0 {
		maxTotalRetries = DefaultMaxTotalRetries
	}
	return &RetryAnalyzer{maxTotalRetries: maxTotalRetries}
}

// Analyze classifies errText for a failed agent of the given type against
// the pattern table and the attempt history.
func (ra *RetryAnalyzer) Analyze(failedType agent.Type, errText string, prior []FailedAttempt) Decision {
	// Hard ceiling first, independent of the error text.
	if len(prior) >= ra.maxTotalRetries {
		return Decision{
			Strategy:   StrategyEscalate,
			Reason:     fmt.Sprintf("retry ceiling reached after %d attempts", len(prior)),
			Confidence: 0.95,
		}
	}

	for _, p := range errorPatterns {
		if !p.re.MatchString(errText) {
			continue
		}
		// A pattern pointing back at the type that just failed is useless;
		// keep matching.
		if p.target != "" && p.target == failedType {
			continue
		}
		d := Decision{
			Strategy:        p.strategy,
			TargetAgentType: p.target,
			Reason:          p.reason,
			Confidence:      p.confidence,
		}
		if d.Strategy == StrategyDifferentAgent && d.TargetAgentType == "" {
			if alt, ok := FindBestAlternativeAgent(failedType, errText, prior); ok {
				d.TargetAgentType = alt
			} else {
				d.TargetAgentType = agent.TypeGeneral
			}
		}
		if d.Strategy == StrategySameAgentDifferent {
			d.ModifiedPrompt = alteredApproachPrompt(errText)
		}
		return d
	}

	return ra.fallback(failedType, errText, prior)
}

// fallback handles errors no pattern recognizes.
func (ra *RetryAnalyzer) fallback(failedType agent.Type, errText string, prior []FailedAttempt) Decision {
	sameAgentRetries := 0
	for _, a := range prior {
		if a.AgentType == failedType {
			sameAgentRetries++
		}
	}

	if sameAgentRetries < 2 {
		return Decision{
			Strategy:       StrategySameAgentDifferent,
			Reason:         "unclassified error, retry with an altered approach",
			Confidence:     0.6,
			ModifiedPrompt: alteredApproachPrompt(errText),
		}
	}

	if alt, ok := FindBestAlternativeAgent(failedType, errText, prior); ok {
		return Decision{
			Strategy:        StrategyDifferentAgent,
			TargetAgentType: alt,
			Reason:          "repeated unclassified failures, reassigning to an alternative type",
			Confidence:      0.65,
		}
	}

	if ShouldDecompose(prior) {
		return Decision{
			Strategy:   StrategyDecompose,
			Reason:     "attempt history suggests the task is too large",
			Confidence: 0.6,
		}
	}

	return Decision{
		Strategy:   StrategyEscalate,
		Reason:     "no retry strategy applies",
		Confidence: 0.4,
	}
}

// FindBestAlternativeAgent picks the best alternative type for a failure:
// candidates come from the transition table minus types already tried,
// scored by base priority plus 20 per skill found in the error text.
func FindBestAlternativeAgent(currentType agent.Type, errText string, prior []FailedAttempt) (agent.Type, bool) {
	tried := make(map[agent.Type]bool)
	for _, a := range prior {
		tried[a.AgentType] = true
	}

	lower := strings.ToLower(errText)
	best := agent.Type("")
	bestScore := -1

	for _, cand := range transitions[currentType] {
		if tried[cand] {
			continue
		}
		c, ok := capabilities[cand]
		if !ok {
			continue
		}
		score := c.priority
		for _, skill := range c.skills {
			if strings.Contains(lower, skill) {
				score += 20
			}
		}
		// Strict > keeps transition-table order on ties.
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	if best == "" {
		return "", false
	}
	return best, true
}

// ShouldDecompose reports whether the attempt history suggests the task
// should be split: at least two attempts and either a size-related error
// or consistently high iteration usage.
func ShouldDecompose(attempts []FailedAttempt) bool {
	if len(attempts) < 2 {
		return false
	}

	totalIterations := 0
	for _, a := range attempts {
		lower := strings.ToLower(a.Error)
		if strings.Contains(lower, "timeout") ||
			strings.Contains(lower, "memory") ||
			strings.Contains(lower, "heap") ||
			strings.Contains(lower, "step") ||
			strings.Contains(lower, "multiple") {
			return true
		}
		totalIterations += a.IterationsUsed
	}
	return totalIterations/len(attempts) > 30
}

func alteredApproachPrompt(errText string) string {
	return fmt.Sprintf("The previous attempt failed with: %s. Try a different approach: break the problem down, verify assumptions, and avoid the path that caused the failure.", errText)
}
