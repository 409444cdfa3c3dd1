package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxConcurrentMessages bounds in-flight message requests, each of which
// may call the generative service.
const MaxConcurrentMessages = 16

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.With(middleware.Throttle(MaxConcurrentMessages)).Post("/messages", h.PostMessage)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/tasks", h.ListTasks)
				r.Post("/tasks/{taskID}/complete", h.CompleteTask)
				r.Post("/tasks/{taskID}/cancel", h.CancelTask)
				r.Post("/tasks/{taskID}/postpone", h.PostponeTask)
				r.Get("/effectiveness", h.Effectiveness)
			})
		})
	})

	return r
}
