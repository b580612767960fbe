package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/commands", s.handleListCommands)

		r.Route("/fans", func(r chi.Router) {
			r.Get("/", s.handleListFans)
			r.Post("/", s.handleCreateFan)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFan)
				r.Put("/", s.handleUpdateFan)
				r.Delete("/", s.handleDeleteFan)
				r.Get("/state", s.handleGetState)
				r.Get("/history", s.handleGetHistory)
				r.Post("/commands", s.handleCommand)
				r.Post("/raw", s.handleRaw)
				r.Get("/query", s.handleQuery)
			})
		})

		r.Get(s.hub.path, s.handleWebSocket)
	})

	return r
}

type healthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Managed       int                      `json:"fans_managed"`
	Connected     int                      `json:"fans_connected"`
	Statistics    senseme.BridgeStatistics `json:"statistics"`
	WSClients     int                      `json:"websocket_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	managed, connected, stats := s.bridge.HealthSnapshot()

	status := senseme.HealthHealthy
	if connected < managed {
		status = senseme.HealthDegraded
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(status),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Managed:       managed,
		Connected:     connected,
		Statistics:    stats,
		WSClients:     s.hub.ClientCount(),
	})
}
