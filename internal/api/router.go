package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-leshan/internal/auth"
)

const defaultWSPath = "/ws"

// buildRouter mounts everything under /api/v1. Only /health is public.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.withRequestID,
		middleware.RealIP,
		s.accessLog,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{endpoint}", s.handleGetDevice)
			r.Get("/devices/{endpoint}/history", s.handleDeviceHistory)
			r.Get("/snapshot", s.handleSnapshot)
			r.With(s.requireRole(auth.RoleAdmin)).Get("/subscriptions", s.handleListSubscriptions)
			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})
	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}
