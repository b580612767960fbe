package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/device"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "fan_unavailable"
	ErrCodeTimeout     = "timeout"
	ErrCodeInternal    = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps registry and bridge errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrFanNotFound), errors.Is(err, senseme.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, device.ErrFanExists), errors.Is(err, senseme.ErrWatchSuperseded):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, device.ErrInvalidFan), errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidAddress), errors.Is(err, senseme.ErrInvalidConfig),
		errors.Is(err, senseme.ErrUnknownCommand), errors.Is(err, senseme.ErrInvalidValue):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, senseme.ErrConfirmTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, senseme.ErrNotConnected), errors.Is(err, senseme.ErrConnectionFailed),
		errors.Is(err, senseme.ErrQueryFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
