package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	hiveotel "github.com/kestrelworks/hive/internal/adapter/otel"
	"github.com/kestrelworks/hive/internal/bus"
	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/agent"
	"github.com/kestrelworks/hive/internal/domain/collab"
	"github.com/kestrelworks/hive/internal/port/collabbus"
)

// HierarchyConstraints bounds the shape of the agent tree.
type HierarchyConstraints struct {
	MaxDepth       int
	MaxChildren    int
	MaxTotalAgents int
}

// DefaultConstraints returns the conventional swarm limits.
func DefaultConstraints() HierarchyConstraints {
	return HierarchyConstraints{MaxDepth: 3, MaxChildren: 5, MaxTotalAgents: 20}
}

// ManagedAgent is a registry entry: the agent plus its coordination
// bookkeeping.
type ManagedAgent struct {
	Agent          *agent.Agent    `json:"agent"`
	FailedAttempts []FailedAttempt `json:"failed_attempts,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivity   time.Time       `json:"last_activity"`
}

// Stats is a point-in-time summary of the swarm.
type Stats struct {
	TotalAgents         int                  `json:"total_agents"`
	ByType              map[agent.Type]int   `json:"by_type"`
	ByStatus            map[agent.Status]int `json:"by_status"`
	TotalFailedAttempts int                  `json:"total_failed_attempts"`
}

// Coordinator owns the agent registry and enforces hierarchy constraints.
// Constraint violations return nil rather than an error, paired with error
// events on the bus, so bulk spawn loops can continue with other work.
type Coordinator struct {
	mu          sync.RWMutex
	agents      map[string]*ManagedAgent
	constraints HierarchyConstraints

	bus      *bus.Bus
	collab   collabbus.Bus
	analyzer *RetryAnalyzer
	metrics  *hiveotel.Metrics
	log      *slog.Logger
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorMetrics attaches the hive metric instruments.
func WithCoordinatorMetrics(m *hiveotel.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator over the given buses.
func NewCoordinator(constraints HierarchyConstraints, eventBus *bus.Bus, msgBus collabbus.Bus, analyzer *RetryAnalyzer, log *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if analyzer == nil {
		analyzer = NewRetryAnalyzer(0)
	}
	c := &Coordinator{
		agents:      make(map[string]*ManagedAgent),
		constraints: constraints,
		bus:         eventBus,
		collab:      msgBus,
		analyzer:    analyzer,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAgent inserts an agent into the registry, subscribes it on the
// message bus and emits a spawn event.
func (c *Coordinator) RegisterAgent(a *agent.Agent) error {
	c.mu.Lock()
	err := c.insertLocked(a)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.attach(a)
}

// insertLocked adds the agent to the registry. Callers hold c.mu.
func (c *Coordinator) insertLocked(a *agent.Agent) error {
	if _, exists := c.agents[a.ID]; exists {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	now := time.Now()
	c.agents[a.ID] = &ManagedAgent{Agent: a, CreatedAt: now, LastActivity: now}
	return nil
}

// attach wires a registered agent onto the message bus and announces it.
func (c *Coordinator) attach(a *agent.Agent) error {
	if _, err := c.collab.Subscribe(a.ID, nil, c.handleMessage); err != nil {
		return fmt.Errorf("subscribe agent %s: %w", a.ID, err)
	}
	c.bus.Emit(bus.CollabSpawn, a, bus.EmitOpts{Source: "coordinator"})
	c.log.Info("agent registered", "agent_id", a.ID, "type", a.Type, "depth", a.Hierarchy.Depth)
	return nil
}

// unlink rolls a failed registration back out of the registry.
func (c *Coordinator) unlink(id, parentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, id)
	if parent, ok := c.agents[parentID]; ok {
		parent.Agent.Hierarchy.ChildIDs = removeString(parent.Agent.Hierarchy.ChildIDs, id)
	}
}

// UnregisterAgent removes an agent and, depth-first, all of its children.
// Unknown ids are a no-op.
func (c *Coordinator) UnregisterAgent(id string) {
	c.mu.RLock()
	ma, ok := c.agents[id]
	var children []string
	if ok {
		children = append(children, ma.Agent.Hierarchy.ChildIDs...)
	}
	c.mu.RUnlock()
	if !ok {
		return
	}

	for _, childID := range children {
		c.UnregisterAgent(childID)
	}

	c.collab.Unsubscribe(id)

	c.mu.Lock()
	if parentID := ma.Agent.Hierarchy.ParentID; parentID != "" {
		if parent, ok := c.agents[parentID]; ok {
			parent.Agent.Hierarchy.ChildIDs = removeString(parent.Agent.Hierarchy.ChildIDs, id)
		}
	}
	delete(c.agents, id)
	c.mu.Unlock()

	c.log.Info("agent unregistered", "agent_id", id)
}

// SpawnSubAgent creates a child agent one depth below the parent. On any
// constraint violation it returns nil and emits error events instead of
// failing. Check, registration and parent linking happen under one write
// lock so concurrent spawns cannot both pass a limit check.
func (c *Coordinator) SpawnSubAgent(ctx context.Context, parentID, taskDesc string, agentType agent.Type, opts agent.Options) *agent.Agent {
	ctx, span := hiveotel.StartSpawnSpan(ctx, parentID, string(agentType))
	defer span.End()

	c.mu.Lock()
	parent, ok := c.agents[parentID]
	var reason string
	switch {
	case !ok:
		reason = "parent agent not found"
	case parent.Agent.Hierarchy.Depth >= c.constraints.MaxDepth:
		reason = "max hierarchy depth reached"
	case len(parent.Agent.Hierarchy.ChildIDs) >= c.constraints.MaxChildren:
		reason = "max children reached"
	case len(c.agents) >= c.constraints.MaxTotalAgents:
		reason = "max total agents reached"
	}
	if reason != "" {
		c.mu.Unlock()
		c.constraintViolation("spawn", parentID, reason)
		return nil
	}

	opts.ParentID = parentID
	opts.Depth = parent.Agent.Hierarchy.Depth + 1
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = c.constraints.MaxDepth
	}
	child := agent.New(agentType, fmt.Sprintf("%s-%s", agentType, shortID()), opts)

	if err := c.insertLocked(child); err != nil {
		c.mu.Unlock()
		c.constraintViolation("spawn", parentID, err.Error())
		return nil
	}
	parent.Agent.Hierarchy.ChildIDs = append(parent.Agent.Hierarchy.ChildIDs, child.ID)
	parent.LastActivity = time.Now()
	c.mu.Unlock()

	if err := c.attach(child); err != nil {
		c.unlink(child.ID, parentID)
		c.constraintViolation("spawn", parentID, err.Error())
		return nil
	}

	msg := collab.New(collab.TypeSubTask, parentID, child.ID, collab.SubTaskPayload{
		Task:     taskDesc,
		ParentID: parentID,
	})
	if err := c.collab.Publish(ctx, msg); err != nil {
		c.log.Error("sub_task publish failed", "child_id", child.ID, "error", err)
	}

	if c.metrics != nil {
		c.metrics.AgentsSpawned.Add(ctx, 1)
	}
	return child
}

// Handoff moves a task to an agent of the target type: an idle one from
// the registry when available, otherwise a new sibling under the same
// parent. Returns the receiving agent's id, or empty string on a
// constraint violation.
func (c *Coordinator) Handoff(ctx context.Context, fromID string, toType agent.Type, taskDesc, taskContext, reason string) string {
	ctx, span := hiveotel.StartHandoffSpan(ctx, fromID, string(toType))
	defer span.End()

	c.mu.RLock()
	from, ok := c.agents[fromID]
	c.mu.RUnlock()
	if !ok {
		c.constraintViolation("handoff", fromID, "source agent not found")
		return ""
	}

	target := c.findIdleAgent(toType)
	if target == "" {
		spawned := c.spawnSibling(from.Agent, from.Agent.Hierarchy.ParentID, toType)
		if spawned == nil {
			return ""
		}
		target = spawned.ID
	}

	msg := collab.New(collab.TypeHandoff, fromID, target, collab.HandoffPayload{
		Task:    taskDesc,
		Context: taskContext,
		Reason:  reason,
	})
	msg.Priority = collab.PriorityHigh
	if err := c.collab.Publish(ctx, msg); err != nil {
		c.log.Error("handoff publish failed", "target_id", target, "error", err)
	}

	c.bus.Emit(bus.CollabHandoff, map[string]any{
		"from":   fromID,
		"to":     target,
		"task":   taskDesc,
		"reason": reason,
	}, bus.EmitOpts{Source: "coordinator"})

	if c.metrics != nil {
		c.metrics.Handoffs.Add(ctx, 1)
	}
	return target
}

// AnalyzeFailure delegates to the retry analyzer using the agent's
// accumulated failure history. An unknown agent escalates with zero
// confidence.
func (c *Coordinator) AnalyzeFailure(ctx context.Context, agentID, errText string) Decision {
	_, span := hiveotel.StartAnalyzeSpan(ctx, agentID, "")
	defer span.End()

	c.mu.RLock()
	ma, ok := c.agents[agentID]
	var (
		agentType agent.Type
		attempts  []FailedAttempt
	)
	if ok {
		agentType = ma.Agent.Type
		attempts = append(attempts, ma.FailedAttempts...)
	}
	c.mu.RUnlock()

	if !ok {
		return Decision{
			Strategy:   StrategyEscalate,
			Reason:     fmt.Sprintf("agent %s is not registered", agentID),
			Confidence: 0,
		}
	}

	if c.metrics != nil {
		c.metrics.RetryDecisions.Add(ctx, 1)
	}
	return c.analyzer.Analyze(agentType, errText, attempts)
}

// RecordFailedAttempt appends to the agent's failure history.
func (c *Coordinator) RecordFailedAttempt(agentID string, attempt FailedAttempt) error {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ma, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	if attempt.AgentID == "" {
		attempt.AgentID = agentID
	}
	if attempt.AgentType == "" {
		attempt.AgentType = ma.Agent.Type
	}
	ma.FailedAttempts = append(ma.FailedAttempts, attempt)
	ma.LastActivity = time.Now()
	return nil
}

// RouteMessage publishes a collaboration message on the bus on behalf of
// a caller.
func (c *Coordinator) RouteMessage(ctx context.Context, msg *collab.Message) error {
	return c.collab.Publish(ctx, msg)
}

// GetAgent returns a registry entry.
func (c *Coordinator) GetAgent(id string) (*ManagedAgent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ma, ok := c.agents[id]
	return ma, ok
}

// AllAgents returns every registry entry.
func (c *Coordinator) AllAgents() []*ManagedAgent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ManagedAgent, 0, len(c.agents))
	for _, ma := range c.agents {
		out = append(out, ma)
	}
	return out
}

// HierarchyTree returns the id -> childIDs adjacency map.
func (c *Coordinator) HierarchyTree() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tree := make(map[string][]string, len(c.agents))
	for id, ma := range c.agents {
		tree[id] = append([]string(nil), ma.Agent.Hierarchy.ChildIDs...)
	}
	return tree
}

// RootAgents returns the agents with no parent.
func (c *Coordinator) RootAgents() []*agent.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var roots []*agent.Agent
	for _, ma := range c.agents {
		if ma.Agent.Hierarchy.ParentID == "" {
			roots = append(roots, ma.Agent)
		}
	}
	return roots
}

// GetStats summarizes the swarm.
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		TotalAgents: len(c.agents),
		ByType:      make(map[agent.Type]int),
		ByStatus:    make(map[agent.Status]int),
	}
	for _, ma := range c.agents {
		s.ByType[ma.Agent.Type]++
		s.ByStatus[ma.Agent.Status]++
		s.TotalFailedAttempts += len(ma.FailedAttempts)
	}
	return s
}

// Clear unregisters every agent, children first.
func (c *Coordinator) Clear() {
	for _, root := range c.RootAgents() {
		c.UnregisterAgent(root.ID)
	}
	// Orphans (parents unregistered out of band) go last.
	c.mu.RLock()
	var rest []string
	for id := range c.agents {
		rest = append(rest, id)
	}
	c.mu.RUnlock()
	for _, id := range rest {
		c.UnregisterAgent(id)
	}
}

// handleMessage dispatches inbound collaboration messages for registered
// agents. Handler errors are contained here; the bus never retries.
func (c *Coordinator) handleMessage(ctx context.Context, msg *collab.Message) error {
	switch msg.Type {
	case collab.TypeHelpRequest:
		return c.handleHelpRequest(ctx, msg)
	case collab.TypeHandoff:
		c.handleHandoff(msg)
	case collab.TypeSubComplete:
		c.handleSubComplete(msg)
	case collab.TypeStatusUpdate:
		c.touch(msg.From)
	}
	return nil
}

// handleHelpRequest finds the best idle helper for the request and
// forwards it, or replies with a rejection when nobody qualifies.
// Candidates score +100 for a capability match, plus their base priority,
// minus 10 per prior failure.
func (c *Coordinator) handleHelpRequest(ctx context.Context, msg *collab.Message) error {
	// A correlation id marks an already-forwarded request; it has reached
	// its helper and must not be routed again.
	if msg.CorrelationID != "" {
		c.touch(msg.To)
		return nil
	}
	payload := payloadAs[collab.HelpRequestPayload](msg.Payload)

	c.mu.RLock()
	best := ""
	bestScore := -1 << 31
	for id, ma := range c.agents {
		if id == msg.From || ma.Agent.Status != agent.StatusIdle {
			continue
		}
		score := capabilities[ma.Agent.Type].priority
		if payload.RequiredCapability != "" && string(ma.Agent.Type) == payload.RequiredCapability {
			score += 100
		}
		score -= 10 * len(ma.FailedAttempts)
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	c.mu.RUnlock()

	if best == "" {
		return c.collab.Reply(ctx, msg, collab.TypeStatusUpdate, collab.HelpRejectedPayload{
			Reason: "no idle agent can take the request",
			Suggestions: []string{
				"retry once a running agent goes idle",
				"decompose the task into smaller pieces",
				"escalate to the operator",
			},
		})
	}

	fwd := collab.New(collab.TypeHelpRequest, msg.From, best, msg.Payload)
	fwd.CorrelationID = msg.ID
	if err := c.collab.Publish(ctx, fwd); err != nil {
		return fmt.Errorf("forward help request: %w", err)
	}
	c.bus.Emit(bus.CollabHelp, map[string]any{
		"from":   msg.From,
		"helper": best,
	}, bus.EmitOpts{Source: "coordinator", CorrelationID: msg.ID})
	return nil
}

// handleHandoff flips the sender idle and the receiver executing.
func (c *Coordinator) handleHandoff(msg *collab.Message) {
	payload := payloadAs[collab.HandoffPayload](msg.Payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if sender, ok := c.agents[msg.From]; ok {
		if err := sender.Agent.SetIdle(); err != nil {
			c.log.Warn("handoff sender not idled", "agent_id", msg.From, "error", err)
		}
		sender.LastActivity = time.Now()
	}
	if receiver, ok := c.agents[msg.To]; ok {
		if err := receiver.Agent.Start(payload.Task); err != nil {
			c.log.Warn("handoff receiver not started", "agent_id", msg.To, "error", err)
		}
		receiver.LastActivity = time.Now()
	}
}

// handleSubComplete bumps the parent's activity and emits completion.
func (c *Coordinator) handleSubComplete(msg *collab.Message) {
	c.touch(msg.To)
	c.bus.Emit(bus.CollabComplete, msg.Payload, bus.EmitOpts{
		Source:        "coordinator",
		CorrelationID: msg.CorrelationID,
	})
}

func (c *Coordinator) touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ma, ok := c.agents[id]; ok {
		ma.LastActivity = time.Now()
	}
}

// findIdleAgent returns the id of an idle agent of the given type.
func (c *Coordinator) findIdleAgent(typ agent.Type) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, ma := range c.agents {
		if ma.Agent.Type == typ && ma.Agent.Status == agent.StatusIdle {
			return id
		}
	}
	return ""
}

// spawnSibling creates a handoff target at the same depth as from. A
// rootless source spawns a new root. The total-agent check and the
// registration share one lock hold, same as SpawnSubAgent.
func (c *Coordinator) spawnSibling(from *agent.Agent, parentID string, typ agent.Type) *agent.Agent {
	sibling := agent.New(typ, fmt.Sprintf("%s-%s", typ, shortID()), agent.Options{
		ParentID: parentID,
		Depth:    from.Hierarchy.Depth,
		MaxDepth: c.constraints.MaxDepth,
	})

	c.mu.Lock()
	if len(c.agents) >= c.constraints.MaxTotalAgents {
		c.mu.Unlock()
		c.constraintViolation("handoff", from.ID, "max total agents reached")
		return nil
	}
	if err := c.insertLocked(sibling); err != nil {
		c.mu.Unlock()
		c.constraintViolation("handoff", from.ID, err.Error())
		return nil
	}
	if parent, ok := c.agents[parentID]; ok {
		parent.Agent.Hierarchy.ChildIDs = append(parent.Agent.Hierarchy.ChildIDs, sibling.ID)
	}
	c.mu.Unlock()

	if err := c.attach(sibling); err != nil {
		c.unlink(sibling.ID, parentID)
		c.constraintViolation("handoff", from.ID, err.Error())
		return nil
	}
	return sibling
}

// constraintViolation logs a rejected operation and emits a system:error
// event; rejected spawns additionally emit an error-annotated collab:spawn
// so spawn subscribers observe failures as well as successes. It never
// returns an error, keeping violations non-throwing for callers.
func (c *Coordinator) constraintViolation(op, agentID, reason string) {
	c.log.Warn("hierarchy constraint violation", "op", op, "agent_id", agentID, "reason", reason)
	c.bus.Emit(bus.SystemError, map[string]any{
		"op":       op,
		"agent_id": agentID,
		"reason":   reason,
	}, bus.EmitOpts{Source: "coordinator"})
	if op == "spawn" {
		c.bus.Emit(bus.CollabSpawn, map[string]any{
			"parent_id": agentID,
			"error":     reason,
		}, bus.EmitOpts{Source: "coordinator"})
	}
}

// payloadAs converts a message payload to T. In-process messages carry
// the struct directly; brokered messages arrive as decoded JSON maps.
func payloadAs[T any](payload any) T {
	if v, ok := payload.(T); ok {
		return v
	}
	var out T
	if data, err := json.Marshal(payload); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func shortID() string {
	return uuid.New().String()[:8]
}
