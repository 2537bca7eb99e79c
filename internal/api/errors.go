package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Clients switch on these, not on the message text.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeTimeout        = "timeout"
)

// commandErrors maps driver failures onto responses, first match wins.
// A command that was never confirmed is a gateway timeout: the bridge is
// up but the module did not answer.
var commandErrors = []struct {
	target error
	status int
	code   string
}{
	{dobiss.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound},
	{dobiss.ErrInvalidLevel, http.StatusBadRequest, ErrCodeValidation},
	{dobiss.ErrCommandTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
	{dobiss.ErrSuperseded, http.StatusConflict, ErrCodeConflict},
	{dobiss.ErrTransport, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{dobiss.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{dobiss.ErrNotRunning, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeCommandError answers a failed Submit or Wait.
func writeCommandError(w http.ResponseWriter, err error) {
	for _, m := range commandErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
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

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}
