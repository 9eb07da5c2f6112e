package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeNotConfigured     = "not_configured"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeAuthFailed        = "auth_failed"
	ErrCodeDeviceUnreachable = "device_unreachable"
	ErrCodeCloudError        = "cloud_error"
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

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps a bridge or cloud error to a response. message is
// shown to the caller; the cause stays in the log.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error, message string) {
	var rl *myq.RateLimitedError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.Remaining.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, rl.Error())
		return
	}

	switch {
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is already paired")
		return
	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, device.ErrInvalidName):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	switch myqbridge.ErrorCode(err) {
	case myqbridge.ErrCodeNotConfigured:
		writeError(w, http.StatusConflict, ErrCodeNotConfigured, "myQ is not configured, set a refresh token first")
	case myqbridge.ErrCodeDeviceNotFound:
		writeNotFound(w, "device not found")
	case myqbridge.ErrCodeInvalidCommand:
		writeBadRequest(w, err.Error())
	case myqbridge.ErrCodeAuthFailed:
		s.logger.Warn("myQ authentication failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeAuthFailed, "myQ rejected the stored credentials, set a new refresh token")
	case myqbridge.ErrCodeDeviceUnreachable:
		s.logger.Warn("myQ device unreachable", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUnreachable, message)
	default:
		s.logger.Error("myQ request failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeCloudError, message)
	}
}
