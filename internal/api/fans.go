package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/device"
)

// fanView is a registered fan plus its live connection state.
type fanView struct {
	device.Fan
	Connection string `json:"connection_state"`
	Identity   string `json:"identity,omitempty"`
}

func (s *Server) fanViews(fans []device.Fan) []fanView {
	live := make(map[string]senseme.DeviceStatus)
	for _, d := range s.bridge.Devices() {
		live[d.ID] = d
	}

	views := make([]fanView, 0, len(fans))
	for _, f := range fans {
		v := fanView{Fan: f, Connection: "stopped"}
		if d, ok := live[f.ID]; ok {
			v.Connection = d.State
			v.Identity = d.Identity
		}
		views = append(views, v)
	}
	return views
}

func (s *Server) handleListFans(w http.ResponseWriter, _ *http.Request) {
	views := s.fanViews(s.registry.List())
	writeJSON(w, http.StatusOK, map[string]any{"fans": views, "count": len(views)})
}

func (s *Server) handleGetFan(w http.ResponseWriter, r *http.Request) {
	fan, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.fanViews([]device.Fan{fan})[0])
}

type createFanRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	IP                 string `json:"ip"`
	Port               int    `json:"port"`
	IdleTimeoutMinutes int    `json:"idle_timeout_min"`
	TemperatureUnit    string `json:"temperature_unit"`
	Enabled            *bool  `json:"enabled"`
}

// handleCreateFan registers a fan and, if enabled, starts its connection.
func (s *Server) handleCreateFan(w http.ResponseWriter, r *http.Request) {
	var req createFanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	fan := &device.Fan{
		ID:                 req.ID,
		Name:               req.Name,
		IP:                 req.IP,
		Port:               req.Port,
		IdleTimeoutMinutes: req.IdleTimeoutMinutes,
		TemperatureUnit:    req.TemperatureUnit,
		Enabled:            req.Enabled == nil || *req.Enabled,
	}
	if fan.Port == 0 {
		fan.Port = senseme.DefaultPort
	}

	if err := s.registry.Create(r.Context(), fan); err != nil {
		writeDomainError(w, err)
		return
	}

	if fan.Enabled {
		if err := s.bridge.StartDevice(fan.ID, fan.DeviceConfig()); err != nil {
			s.logger.Warn("registered fan failed to start", "fan_id", fan.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, s.fanViews([]device.Fan{*fan})[0])
}

type updateFanRequest struct {
	Name               *string `json:"name"`
	IP                 *string `json:"ip"`
	Port               *int    `json:"port"`
	IdleTimeoutMinutes *int    `json:"idle_timeout_min"`
	TemperatureUnit    *string `json:"temperature_unit"`
	Enabled            *bool   `json:"enabled"`
}

// handleUpdateFan applies the supplied fields, then restarts or stops the
// fan's connection to match the stored record.
func (s *Server) handleUpdateFan(w http.ResponseWriter, r *http.Request) {
	var req updateFanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	fan, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Name != nil {
		fan.Name = *req.Name
	}
	if req.IP != nil {
		fan.IP = *req.IP
	}
	if req.Port != nil {
		fan.Port = *req.Port
	}
	if req.IdleTimeoutMinutes != nil {
		fan.IdleTimeoutMinutes = *req.IdleTimeoutMinutes
	}
	if req.TemperatureUnit != nil {
		fan.TemperatureUnit = *req.TemperatureUnit
	}
	if req.Enabled != nil {
		fan.Enabled = *req.Enabled
	}

	if err := s.registry.Update(r.Context(), &fan); err != nil {
		writeDomainError(w, err)
		return
	}

	if fan.Enabled {
		if err := s.bridge.StartDevice(fan.ID, fan.DeviceConfig()); err != nil {
			s.logger.Warn("updated fan failed to restart", "fan_id", fan.ID, "error", err)
		}
	} else if err := s.bridge.StopDevice(fan.ID); err != nil && !errors.Is(err, senseme.ErrDeviceNotFound) {
		s.logger.Warn("disabled fan failed to stop", "fan_id", fan.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, s.fanViews([]device.Fan{fan})[0])
}

// handleDeleteFan stops the connection before removing the record.
func (s *Server) handleDeleteFan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.bridge.StopDevice(id); err != nil && !errors.Is(err, senseme.ErrDeviceNotFound) {
		writeDomainError(w, err)
		return
	}
	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok := s.bridge.State(id)
	if !ok {
		writeNotFound(w, "no state for fan "+id)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetHistory supports ?attribute= and ?limit= filters.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeUnavailable, "state history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), id, r.URL.Query().Get("attribute"), limit)
	if err != nil {
		writeInternalError(w, "failed to read state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fan_id": id, "history": entries, "count": len(entries)})
}
