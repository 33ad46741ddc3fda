package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiToken))

			r.Get("/sync/status", h.SyncStatus)
			r.Post("/sync/now", h.SyncNow)

			r.Post("/queue", h.EnqueueMutation)
			r.Get("/queue", h.ListQueue)
			r.Delete("/queue/completed", h.PurgeQueue)

			r.Get("/conflicts", h.ListConflicts)
			r.Get("/conflicts/{id}", h.GetConflict)
			r.Post("/conflicts/{id}/resolve", h.ResolveConflict)
			r.Delete("/conflicts/{id}", h.DiscardConflict)

			r.Get("/tier", h.GetTier)
			r.Put("/tier", h.UpdateTier)

			r.Post("/auth/token", h.UpdateAuthToken)
		})
	})

	return r
}
