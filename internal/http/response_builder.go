// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses and the single
// mapping from domain errors to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/core"
	flog "fintrack/internal/log"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	KindValidation  = "validation"
	KindBadRequest  = "bad_request"
	KindNotFound    = "not_found"
	KindConflict    = "conflict"
	KindStore       = "store"
	KindTimeout     = "timeout"
	KindRateLimited = "rate_limited"
	KindMethod      = "method_not_allowed"
	KindInternal    = "internal"
	KindUnavailable = "unavailable"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       interface{}
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v interface{}) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, kind, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message, Kind: kind})
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, KindMethod, "method not allowed")
}

// classify maps err to a status code, an error kind and a client-safe
// message. Store internals are never echoed back.
func classify(err error) (int, string, string) {
	var authErr *core.AuthError
	switch {
	case errors.As(err, &authErr):
		switch authErr.Kind {
		case core.AuthConflict:
			return http.StatusConflict, string(authErr.Kind), authErr.Msg
		case core.AuthInvalidInput:
			return http.StatusUnprocessableEntity, string(authErr.Kind), authErr.Msg
		default:
			msg := authErr.Msg
			if msg == "" {
				msg = "unauthorized"
			}
			return http.StatusUnauthorized, string(authErr.Kind), msg
		}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, KindBadRequest, "malformed request body"
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity, KindValidation, validationMessage(err)
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, KindNotFound, "transaction not found"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, KindConflict, "already exists"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout, "request timed out"
	}
	var storeErr *core.StoreError
	if errors.As(err, &storeErr) {
		return http.StatusInternalServerError, KindStore, "storage error"
	}
	return http.StatusInternalServerError, KindInternal, "internal error"
}

// validationMessage names the first failed rule.
func validationMessage(err error) string {
	for _, target := range []error{
		core.ErrEmptyDescription, core.ErrDescriptionTooLong, core.ErrEmptyCategory,
		core.ErrInvalidAmount, core.ErrInvalidKind, core.ErrInvalidDate,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "invalid input"
}

// writeError logs err at a level matching its class and writes the JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	status, kind, msg := classify(err)
	logger := flog.FromContext(r.Context())
	fields := []any{
		flog.FieldError, err,
		flog.FieldOperation, operation,
		flog.FieldStatusCode, status,
	}
	if status >= 500 {
		logger.ErrorContext(r.Context(), "Request failed", fields...)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", fields...)
	}
	ErrorResponse(status, kind, msg).Write(w)
}
