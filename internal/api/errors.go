package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/reolink-core/internal/action"
	reolink "github.com/nerrad567/reolink-core/internal/bridges/reolink"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/probe"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeUpstream     = "device_error"
	ErrCodeTimeout      = "timeout"
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
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
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

// isValidationError reports whether err came from device validation.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidRole) ||
		errors.Is(err, device.ErrParentRequired) ||
		errors.Is(err, device.ErrParentNotHub)
}

// writeWorkflowError maps a provisioning, refresh or execution failure to a
// response. The bridge's ack codes drive the mapping so both surfaces agree.
func writeWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, probe.ErrProbeUnreachable) {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	if errors.Is(err, probe.ErrEmptyAbilitySet) {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUpstream, err.Error())
		return
	}
	if errors.Is(err, action.ErrNotAction) {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}

	switch reolink.ErrorCode(err) {
	case reolink.ErrCodeNotConfigured:
		writeNotFound(w, err.Error())
	case reolink.ErrCodeInvalidParameters:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case reolink.ErrCodeNotHub:
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case reolink.ErrCodeTimeout:
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case reolink.ErrCodeDeviceUnreachable, reolink.ErrCodeDeviceRejected:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		if errors.Is(err, reolink.ErrBridgeStopped) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
		writeInternalError(w, err.Error())
	}
}
