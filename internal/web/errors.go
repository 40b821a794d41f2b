package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical details and the request id, then
// returned as JSON carrying the user message, action and code from
// core.MapError.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/geoload/internal/core"
	"github.com/JonMunkholm/geoload/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError maps err, logs it and writes the JSON error. A zero status
// is derived from the error code.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	if status == 0 {
		status = statusFor(msg.Code)
	}

	level := slog.LevelError
	if core.IsUserFacing(err) {
		level = slog.LevelWarn
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	respondErrorJSON(w, msg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status of a user error code.
func statusFor(code string) int {
	switch {
	case code == "LOAD001":
		return http.StatusTooManyRequests
	case code == "LOAD002", code == "LOAD003":
		return http.StatusGatewayTimeout
	case code == "DB001", code == "DB002", code == "DB005":
		return http.StatusServiceUnavailable
	case code == "DB003":
		return http.StatusConflict
	case code == "DB006", code == "SRC003":
		return http.StatusNotFound
	case code == "SRC004":
		return http.StatusBadRequest
	case code == "SRC007":
		return http.StatusRequestEntityTooLarge
	case strings.HasPrefix(code, "SRC"), strings.HasPrefix(code, "GEO"), code == "LOAD004", code == "LOAD005", code == "DB004":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
