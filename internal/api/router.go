package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
)

// buildRouter mounts every endpoint under /api/v1. Health, metrics and the
// WebSocket upgrade are public; /ws checks its ticket itself.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.bodySizeLimitMiddleware,
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	read := s.requirePermission(auth.PermOutputRead)
	operate := s.requirePermission(auth.PermOutputOperate)
	diagnose := s.requirePermission(auth.PermDiagnostics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/outputs", func(r chi.Router) {
				r.With(read).Get("/", s.handleListOutputs)
				r.With(read).Get("/{id}", s.handleGetOutput)
				r.With(operate).Post("/refresh", s.handleRefreshAll)
				r.With(operate).Put("/{id}/state", s.handleSetOutputState)
				r.With(operate).Post("/{id}/refresh", s.handleRefreshOutput)
			})

			r.With(diagnose).Get("/diagnostics/frames", s.handleListFrames)
			r.With(diagnose).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

type healthResponse struct {
	Status  string      `json:"status"` // ok or degraded
	Version string      `json:"version"`
	Bus     busHealth   `json:"bus"`
	MQTT    *mqttHealth `json:"mqtt,omitempty"`
}

type busHealth struct {
	LinkUp bool `json:"link_up"`
}

type mqttHealth struct {
	Connected bool `json:"connected"`
}

// handleHealth always answers 200 so load balancers keep routing to the
// API; a down CAN link or broker shows as "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Bus:     busHealth{LinkUp: s.driver.Stats().LinkUp},
	}
	if s.mqtt != nil {
		resp.MQTT = &mqttHealth{Connected: s.mqtt.IsConnected()}
	}

	if !resp.Bus.LinkUp || (resp.MQTT != nil && !resp.MQTT.Connected) {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
