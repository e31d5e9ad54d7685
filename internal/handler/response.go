package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError so the two binaries
// speak one JSON dialect.
//
// CONSISTENT ERROR FORMAT:
// Every error response has the same shape:
//   {"error": "busy", "message": "workspace is busy (running)"}
//
// A 401 additionally names the login page:
//   {"error": "unauthenticated", "message": "...", "redirect": "/login"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/workspace"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error    string `json:"error"`              // Machine-readable error type (e.g., "not_found")
	Message  string `json:"message"`            // Human-readable description
	Field    string `json:"field,omitempty"`    // Offending request field for validation errors
	Redirect string `json:"redirect,omitempty"` // Where the client should navigate next
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body. Once Encode writes, the
// headers are on the wire and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and machine-readable type.
//
// errors.Is walks the whole chain, so a service can wrap an AppError with
// fmt.Errorf("...: %w", err) and the mapping still finds the sentinel.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// The service layer never knows about status codes; this is the single place
// where ErrNotFound becomes 404 and ErrBusy becomes 409.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// NEVER expose internal error details: the raw message might contain
		// SQL, file paths or a DSN.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := errorStatus(err)
	resp := ErrorResponse{Error: kind, Message: appErr.Message, Field: appErr.Field}
	if status == http.StatusUnauthorized {
		resp.Redirect = workspace.LoginRoute
	}
	writeJSON(w, status, resp)
}
