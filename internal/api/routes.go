package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/device", func(r chi.Router) {
			r.Get("/", s.HandleGetDevice)
			r.Post("/connect", s.HandleConnectDevice)
			r.Post("/disconnect", s.HandleDisconnectDevice)
		})

		r.Get("/telemetry", s.HandleGetTelemetry)
	})
}
