package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrelworks/hive/internal/domain"
	"github.com/kestrelworks/hive/internal/domain/agent"
	"github.com/kestrelworks/hive/internal/domain/memory"
	"github.com/kestrelworks/hive/internal/domain/task"
	"github.com/kestrelworks/hive/internal/service"
)

// Handlers bundles the services the REST API exposes.
type Handlers struct {
	Memory *service.Composite
	Swarm  *service.Coordinator
	// BreakerState reports the durable backend's circuit state when one is
	// wired; nil when the backend has no breaker.
	BreakerState func() string
}

func NewHandlers(mem *service.Composite, swarm *service.Coordinator) *Handlers {
	return &Handlers{Memory: mem, Swarm: swarm}
}

// Health reports liveness and, when present, the durable backend's breaker.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	out := map[string]string{"status": "ok"}
	if h.BreakerState != nil {
		out["breaker"] = h.BreakerState()
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Memory ---

func (h *Handlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	e, ok := readJSON[*memory.Entry](w, r)
	if !ok {
		return
	}
	if e == nil {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	if e.Metadata.Source == "" {
		e.Metadata.Source = "api"
	}
	id, err := h.Memory.Add(r.Context(), e)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	e, err := h.Memory.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	patch, ok := readJSON[memory.Patch](w, r)
	if !ok {
		return
	}
	if err := h.Memory.Update(r.Context(), urlParam(r, "id"), patch); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory entry not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.Memory.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) QueryMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.Filter{
		Types:       queryTypes(q.Get("types")),
		AgentID:     q.Get("agent_id"),
		TaskID:      q.Get("task_id"),
		ProjectPath: q.Get("project_path"),
		Tags:        queryList(q.Get("tags")),
		OrderBy:     memory.OrderBy(q.Get("order_by")),
		OrderDir:    memory.OrderDir(q.Get("order_dir")),
		Limit:       queryInt(q.Get("limit")),
		Offset:      queryInt(q.Get("offset")),
	}
	entries, err := h.Memory.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handlers) SearchMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if !requireField(w, text, "q") {
		return
	}
	entries, err := h.Memory.Search(r.Context(), text, memory.SearchOptions{
		Types: queryTypes(q.Get("types")),
		Limit: queryInt(q.Get("limit")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handlers) ClearMemory(w http.ResponseWriter, r *http.Request) {
	types := queryTypes(r.URL.Query().Get("types"))
	if err := h.Memory.Clear(r.Context(), types...); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CountMemory(w http.ResponseWriter, r *http.Request) {
	var f *memory.Filter
	if types := queryTypes(r.URL.Query().Get("types")); len(types) > 0 {
		f = &memory.Filter{Types: types}
	}
	n, err := h.Memory.Count(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// --- Agents ---

type createAgentRequest struct {
	Type          agent.Type `json:"type"`
	Name          string     `json:"name"`
	SystemPrompt  string     `json:"system_prompt,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`
	MaxDepth      int        `json:"max_depth,omitempty"`
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createAgentRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}
	if req.Type == "" {
		req.Type = agent.TypeGeneral
	}
	a := agent.New(req.Type, req.Name, agent.Options{
		SystemPrompt:  req.SystemPrompt,
		MaxIterations: req.MaxIterations,
		MaxDepth:      req.MaxDepth,
	})
	if err := h.Swarm.RegisterAgent(a); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Swarm.AllAgents())
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	ma, ok := h.Swarm.GetAgent(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, ma)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	h.Swarm.UnregisterAgent(urlParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type spawnRequest struct {
	Task          string     `json:"task"`
	Type          agent.Type `json:"type"`
	SystemPrompt  string     `json:"system_prompt,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`
}

func (h *Handlers) SpawnAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[spawnRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Task, "task") {
		return
	}
	if req.Type == "" {
		req.Type = agent.TypeGeneral
	}
	child := h.Swarm.SpawnSubAgent(r.Context(), urlParam(r, "id"), req.Task, req.Type, agent.Options{
		SystemPrompt:  req.SystemPrompt,
		MaxIterations: req.MaxIterations,
	})
	if child == nil {
		writeError(w, http.StatusUnprocessableEntity, "spawn rejected: hierarchy constraint violated")
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

type handoffRequest struct {
	ToType  agent.Type `json:"to_type"`
	Task    string     `json:"task"`
	Context string     `json:"context,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

func (h *Handlers) HandoffAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[handoffRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Task, "task") || !requireField(w, string(req.ToType), "to_type") {
		return
	}
	target := h.Swarm.Handoff(r.Context(), urlParam(r, "id"), req.ToType, req.Task, req.Context, req.Reason)
	if target == "" {
		writeError(w, http.StatusUnprocessableEntity, "handoff rejected: no agent available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"target_agent_id": target})
}

type failureRequest struct {
	Error          string   `json:"error"`
	ToolsAttempted []string `json:"tools_attempted,omitempty"`
	IterationsUsed int      `json:"iterations_used,omitempty"`
}

func (h *Handlers) RecordFailure(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[failureRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Error, "error") {
		return
	}
	err := h.Swarm.RecordFailedAttempt(urlParam(r, "id"), service.FailedAttempt{
		Error:          req.Error,
		ToolsAttempted: req.ToolsAttempted,
		IterationsUsed: req.IterationsUsed,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AnalyzeFailure(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[failureRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Error, "error") {
		return
	}
	d := h.Swarm.AnalyzeFailure(r.Context(), urlParam(r, "id"), req.Error)
	writeJSON(w, http.StatusOK, d)
}

// --- Swarm ---

func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Swarm.GetStats())
}

func (h *Handlers) Hierarchy(w http.ResponseWriter, _ *http.Request) {
	roots := h.Swarm.RootAgents()
	rootIDs := make([]string, 0, len(roots))
	for _, a := range roots {
		rootIDs = append(rootIDs, a.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roots": rootIDs,
		"tree":  h.Swarm.HierarchyTree(),
	})
}

// --- Tasks ---

type decomposeRequest struct {
	Description string        `json:"description"`
	Priority    task.Priority `json:"priority,omitempty"`
	Context     string        `json:"context,omitempty"`
}

func (h *Handlers) DecomposeTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decomposeRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Description, "description") {
		return
	}
	parent := task.New(req.Description, req.Priority)
	writeJSON(w, http.StatusOK, service.Decompose(parent, req.Context))
}

// --- Query param helpers ---

func queryList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryTypes(raw string) []memory.Type {
	parts := queryList(raw)
	if len(parts) == 0 {
		return nil
	}
	out := make([]memory.Type, 0, len(parts))
	for _, p := range parts {
		out = append(out, memory.Type(p))
	}
	return out
}

func queryInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
