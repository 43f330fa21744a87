package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/overlay"
)

// Error is the body of an /api/v1 error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope wraps Error as {"error": {...}}.
type errorEnvelope struct {
	Error Error `json:"error"`
}

// legacyResponse is the {success, ...} shape the mobile client reads on the
// root routes.
type legacyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeAlreadyRunning     = "already_running"
	ErrCodeUnknownSequence    = "unknown_sequence"
	ErrCodeUnknownAccount     = "unknown_account"
	ErrCodePermissionRequired = "permission_required"
	ErrCodeOverlayInactive    = "overlay_inactive"
	ErrCodeDevice             = "device_error"
	ErrCodeCatalogLoad        = "catalog_load_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{Code: code, Message: message}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps domain sentinels to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, automation.ErrAlreadyRunning):
		return http.StatusConflict, ErrCodeAlreadyRunning
	case errors.Is(err, automation.ErrUnknownSequence),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, ErrCodeUnknownSequence
	case errors.Is(err, automation.ErrUnknownAccount):
		return http.StatusNotFound, ErrCodeUnknownAccount
	case errors.Is(err, automation.ErrRunNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, automation.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, overlay.ErrPermissionRequired):
		return http.StatusForbidden, ErrCodePermissionRequired
	case errors.Is(err, overlay.ErrInactive):
		return http.StatusConflict, ErrCodeOverlayInactive
	case errors.Is(err, adb.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeDevice
	case errors.Is(err, adb.ErrADBNotFound), errors.Is(err, adb.ErrCommand):
		return http.StatusBadGateway, ErrCodeDevice
	case errors.Is(err, catalog.ErrCatalogLoad):
		return http.StatusInternalServerError, ErrCodeCatalogLoad
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err in the /api/v1 envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err.Error())
}

// writeLegacyError writes err in the {success:false, error} shape.
func writeLegacyError(w http.ResponseWriter, err error) {
	status, _ := statusFor(err)
	writeJSON(w, status, legacyResponse{Success: false, Error: err.Error()})
}
