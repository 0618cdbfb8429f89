// Package respond writes JSON responses and maps domain errors to statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// JSON writes payload with status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Message writes an error body with the given status.
func Message(w http.ResponseWriter, status int, code, msg string) {
	JSON(w, status, ErrorBody{Error: msg, Code: code})
}

// Status maps a session error to an HTTP status and machine-readable code.
func Status(err error) (int, string) {
	var (
		cfgErr  *sheets.ConfigurationError
		capErr  *sheets.CapabilityError
		loadErr *sheets.ScriptLoadError
		conErr  *sheets.ConsentError
		nfErr   *sheets.NotFoundError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable, "configuration"
	case errors.As(err, &capErr):
		return http.StatusServiceUnavailable, "capability"
	case errors.As(err, &loadErr):
		return http.StatusServiceUnavailable, "script_load"
	case errors.As(err, &conErr):
		return http.StatusUnauthorized, "consent"
	case errors.Is(err, sheets.ErrNotSignedIn):
		return http.StatusUnauthorized, "not_signed_in"
	case errors.Is(err, sheets.ErrNoContainerSelected):
		return http.StatusConflict, "no_container_selected"
	case errors.As(err, &nfErr):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusBadGateway, "upstream"
	}
}

// Error logs err and writes the mapped status with its message.
func Error(w http.ResponseWriter, logger *logging.Logger, err error) {
	status, code := Status(err)
	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	}
	Message(w, status, code, err.Error())
}
