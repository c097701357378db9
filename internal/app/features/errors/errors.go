// internal/app/features/errors/errors.go
// Package errors is the HTTP boundary for failures: it turns classified
// service errors into JSON responses with a fixed status per kind and hides
// everything else behind a generic 500.
package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const genericMessage = "Внутренняя ошибка сервера. Попробуйте позже."

// Body is the JSON shape of every error response.
type Body struct {
	Code  string `json:"code"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ErrorLogger writes error responses and logs the ones that are not the
// caller's fault.
type ErrorLogger struct {
	log *zap.Logger
}

// NewErrorLogger constructs an ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLogger{log: logger}
}

// Write maps err to a response. Classified errors keep their message;
// anything else is logged and answered with a generic 500.
func (e *ErrorLogger) Write(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		e.LogServerError(w, r, "unhandled error", err)
		return
	}
	status := StatusFor(r, ae.Kind)
	if ae.Err != nil {
		e.log.Debug("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", ae.Code),
			zap.Error(ae.Err))
	}
	WriteJSON(w, status, Body{Code: ae.Code, Error: ae.Message, Field: ae.Field})
}

// LogServerError logs err with msg and answers 500 without detail.
func (e *ErrorLogger) LogServerError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	e.log.Error(msg,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	WriteJSON(w, http.StatusInternalServerError, Body{Code: "internal", Error: genericMessage})
}

// LogBadRequest answers 400 for a request the handler could not decode.
func (e *ErrorLogger) LogBadRequest(w http.ResponseWriter, r *http.Request, msg string, err error, userMsg string) {
	e.log.Debug(msg, zap.String("path", r.URL.Path), zap.Error(err))
	WriteJSON(w, http.StatusBadRequest, Body{Code: apperr.CodeInvalidInput, Error: userMsg})
}

// StatusFor is the fixed status of each error kind. Authentication errors
// raised inside the sign-in flow are 400; elsewhere they are 401.
func StatusFor(r *http.Request, k apperr.Kind) int {
	switch k {
	case apperr.KindValidation, apperr.KindStateConflict:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		if strings.HasPrefix(r.URL.Path, "/auth/") {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
