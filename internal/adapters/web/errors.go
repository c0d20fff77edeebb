package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"rackrunner/internal/core"
	"rackrunner/internal/qr"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a core error onto an HTTP status. Persistence and unknown
// errors are logged with their cause and rendered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
	case errors.Is(err, qr.ErrInvalidSignature), errors.Is(err, qr.ErrMalformed):
		writeError(w, r, err.Error(), "INVALID_QR", http.StatusBadRequest)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidState):
		writeError(w, r, err.Error(), "INVALID_STATE", http.StatusConflict)
	case errors.Is(err, core.ErrPersistence):
		cause := err
		var pe *core.PersistenceError
		if errors.As(err, &pe) && pe.Err != nil {
			cause = fmt.Errorf("%s: %w", pe.Op, pe.Err)
		}
		log.Printf("[HTTP] %s %s rid=%s: %v", r.Method, r.URL.Path, requestIDFromContext(r.Context()), cause)
		writeError(w, r, "a database error occurred", "DATABASE_ERROR", http.StatusInternalServerError)
	default:
		log.Printf("[HTTP] %s %s rid=%s: %v", r.Method, r.URL.Path, requestIDFromContext(r.Context()), err)
		writeError(w, r, "an internal error occurred", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
