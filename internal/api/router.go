package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Liveness (no auth required)
	r.Get("/", s.handleRoot)
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Command surface used by the mobile client
		r.Post("/execute", s.handleExecute)
		r.Post("/stop", s.handleStop)
		r.Get("/actions", s.handleActions)
		r.Get("/devices", s.handleDevices)
		r.Get("/check_game_state", s.handleCheckGameState)
		r.Post("/debug_touch", s.handleDebugTouch)
		r.Get("/debug_detect", s.handleDebugDetect)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Post("/", s.handleStartRun)
				r.Get("/active", s.handleActiveRun)
				r.Get("/{id}", s.handleGetRun)
				r.Post("/{id}/cancel", s.handleCancelRun)
			})

			r.Route("/sequences", func(r chi.Router) {
				r.Get("/", s.handleListSequences)
				r.Get("/{id}", s.handleGetSequence)
				r.Post("/{id}/match", s.handleMatchSequence)
			})

			r.Post("/catalog/reload", s.handleReloadCatalog)

			r.Route("/overlay", func(r chi.Router) {
				r.Get("/", s.handleOverlayState)
				r.Post("/permission", s.handleOverlayPermission)
				r.Post("/activate", s.handleOverlayActivate)
				r.Post("/deactivate", s.handleOverlayDeactivate)
				r.Post("/menu", s.handleOverlayMenu)
				r.Post("/trigger", s.handleOverlayTrigger)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleRoot identifies the service.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"service": "autotouch",
		"version": s.version,
	})
}

// handleStatus reports engine liveness as a bare boolean, independent of
// whether a run is active.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, true)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
