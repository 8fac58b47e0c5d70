package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeInvalidRequest, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// The WebSocket authenticates from its query string.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/metrics", s.handleMetrics)

			r.Route("/relay", func(r chi.Router) {
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
			})

			r.Route("/lights", func(r chi.Router) {
				r.Put("/", s.handleSetLights)
				r.Post("/off", s.handleLightsOff)
				r.Get("/presets", s.handleListPresets)
			})

			r.Route("/sequence", func(r chi.Router) {
				r.Post("/start", s.handleStartSequence)
				r.Post("/reset", s.handleResetSequence)
				r.Get("/runs", s.handleListRuns)
			})

			r.Get("/session/events", s.handleListSessionEvents)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	path := s.wsCfg.Path
	if path == "" {
		return "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
