package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
)

// maxConfirmTimeout caps a caller-supplied confirmation wait.
const maxConfirmTimeout = 30 * time.Second

type commandRequest struct {
	Command   string `json:"command"`
	Value     *int   `json:"value,omitempty"`
	Confirm   bool   `json:"confirm"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// rawRequest.Predicate is required with Confirm: the substring the fan's
// report must contain, e.g. "FAN;PWR;ON)".
type rawRequest struct {
	Raw       string `json:"raw"`
	Predicate string `json:"predicate,omitempty"`
	Confirm   bool   `json:"confirm"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type commandResponse struct {
	CommandID string            `json:"command_id"`
	FanID     string            `json:"fan_id"`
	Command   string            `json:"command"`
	Status    senseme.AckStatus `json:"status"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}

	s.execute(w, r, senseme.CommandRequest{
		Command: req.Command,
		Value:   req.Value,
		Confirm: req.Confirm,
		Timeout: confirmTimeout(req.TimeoutMS),
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Confirm && strings.TrimSpace(req.Predicate) == "" {
		writeBadRequest(w, "predicate is required when confirm is set")
		return
	}

	s.execute(w, r, senseme.CommandRequest{
		Command:   senseme.CommandRawName,
		Raw:       req.Raw,
		Predicate: req.Predicate,
		Confirm:   req.Confirm,
		Timeout:   confirmTimeout(req.TimeoutMS),
	})
}

type commandInfo struct {
	Name       string `json:"name"`
	NeedsValue bool   `json:"needs_value"`
	Min        *int   `json:"min,omitempty"`
	Max        *int   `json:"max,omitempty"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	names := senseme.Commands()
	out := make([]commandInfo, 0, len(names))
	for _, name := range names {
		spec, _ := senseme.LookupCommand(name)
		info := commandInfo{Name: name, NeedsValue: spec.NeedsValue}
		if spec.NeedsValue {
			info.Min, info.Max = &spec.Min, &spec.Max
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": out, "count": len(out)})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd senseme.CommandRequest) {
	id := chi.URLParam(r, "id")
	commandID := uuid.NewString()

	status, err := s.bridge.Execute(r.Context(), id, cmd)
	if err != nil {
		s.logger.Info("api command failed",
			"fan_id", id, "command", cmd.Command, "command_id", commandID, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		CommandID: commandID,
		FanID:     id,
		Command:   cmd.Command,
		Status:    status,
	})
}

// handleQuery runs a one-shot query such as ?q=FAN;SPD;GET;ACTUAL.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeBadRequest(w, "q is required")
		return
	}

	value, err := s.bridge.Query(r.Context(), id, q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fan_id": id, "query": q, "value": value})
}

func confirmTimeout(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return min(time.Duration(ms)*time.Millisecond, maxConfirmTimeout)
}
