package web

// errors.go provides unified error responses for the web layer.
//
// The technical error is logged with the request id; the client receives the
// mapped user message with its action and code. API routes answer in JSON,
// pages in plain text.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor picks the HTTP status for an engine error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConfiguration(err), apperr.IsValidation(err):
		return http.StatusUnprocessableEntity
	case apperr.IsAuth(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := apperr.MapError(err)
	reqID := middleware.GetReqID(r.Context())

	log := logging.FromContext(r.Context())
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.Int("status", status),
		zap.String("code", msg.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", fields...)
	} else {
		log.Warn("request error", fields...)
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}

	if !wantsJSON(r) {
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
		return
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:     msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: reqID,
	})
}

// badRequest answers a malformed request.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
		Error:     message,
		Code:      "REQ001",
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeJSON encodes v with status. Encoding errors are only logged since the
// header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Warn("json encode error", zap.Error(err))
	}
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
