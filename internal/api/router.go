package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knxnetip/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Recorder listings (read-only, no auth required)
		r.Get("/groups", s.handleListGroups)
		r.Get("/groups/{ga}", s.handleGetGroup)
		r.Get("/devices", s.handleListDevices)

		// Bus control
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/groups/{ga}/write", s.handleGroupWrite)
			r.Post("/groups/{ga}/read", s.handleGroupRead)
		})

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the connection state, session statistics and
// dependency checks in the same shape the bridge publishes on
// {prefix}/health.
//
// GET /status
// Response: bridge.HealthMessage
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, reason, deps := bridge.Evaluate(r.Context(), s.bus, s.checks)

	msg := bridge.NewHealthMessage(s.version, s.gateway, status, s.bus.Stats(), s.counters(), s.startTime)
	msg.Reason = reason
	msg.Dependencies = deps
	writeJSON(w, http.StatusOK, msg)
}
