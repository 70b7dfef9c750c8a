package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kestrelworks/hive/internal/middleware"
)

// NewRouter builds the hived API router. wsHandler, when non-nil, is mounted
// at /ws for event streaming.
func NewRouter(h *Handlers, corsOrigin string, wsHandler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(Logger)
	if corsOrigin != "" {
		r.Use(CORS(corsOrigin))
	}

	r.Get("/health", h.Health)
	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Memory
		r.Post("/memory", h.CreateMemory)
		r.Get("/memory", h.QueryMemory)
		r.Delete("/memory", h.ClearMemory)
		r.Get("/memory/search", h.SearchMemory)
		r.Get("/memory/count", h.CountMemory)
		r.Get("/memory/{id}", h.GetMemory)
		r.Patch("/memory/{id}", h.UpdateMemory)
		r.Delete("/memory/{id}", h.DeleteMemory)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.CreateAgent)
		r.Get("/agents/{id}", h.GetAgent)
		r.Delete("/agents/{id}", h.DeleteAgent)
		r.Post("/agents/{id}/spawn", h.SpawnAgent)
		r.Post("/agents/{id}/handoff", h.HandoffAgent)
		r.Post("/agents/{id}/failures", h.RecordFailure)
		r.Post("/agents/{id}/analyze", h.AnalyzeFailure)

		// Swarm
		r.Get("/stats", h.Stats)
		r.Get("/hierarchy", h.Hierarchy)

		// Tasks
		r.Post("/tasks/decompose", h.DecomposeTask)
	})

	return r
}
