package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends v as a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error onto an HTTP status and a client-facing message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "Only the author can do that"
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, query.ErrNotReady):
		return http.StatusConflict, "Not ready"
	case errors.Is(err, services.ErrUploadFailed):
		return http.StatusBadGateway, "Upload failed, please try again"
	case errors.Is(err, services.ErrMetadataWriteFailed):
		return http.StatusInternalServerError, "Photo could not be saved"
	case errors.Is(err, services.ErrDeleteFailed):
		return http.StatusInternalServerError, "Delete failed"
	case errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// respondServiceError logs err and sends the mapped status
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status, message := statusFor(err)

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg(msg)

	respondError(w, message, status)
}
