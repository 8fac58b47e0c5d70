package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
	"github.com/hillheadsc/racelights/internal/sequence"
)

// Error codes returned in error bodies.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeInternal       = "internal_error"
)

// ErrorDetail is the body of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorDetail `json:"error"`
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write; the client may have gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeControllerError maps a controller error onto a status and code.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, racecontrol.ErrCountdownActive):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, racecontrol.ErrInvalidStarts),
		errors.Is(err, racecontrol.ErrInvalidMinutes),
		errors.Is(err, racecontrol.ErrUnknownPreset),
		errors.Is(err, sequence.ErrUnknownPolicy),
		errors.Is(err, lights.ErrInvalidLight),
		errors.Is(err, lights.ErrInvalidLength):
		writeBadRequest(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "controller busy: "+err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
