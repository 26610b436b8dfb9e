// Package http provides the REST API server and its handlers.
//
// This file implements the Builder Pattern for constructing JSON responses.
// It keeps headers, partial failure annotations and error bodies consistent
// across handlers.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"finguru/internal/core"
	"finguru/internal/middleware/trace"
)

// PartialFailuresHeader lists the banks missing from an aggregate result as
// comma separated bank=reason pairs.
const PartialFailuresHeader = "X-Partial-Failures"

// Error codes returned in JSON error bodies.
const (
	CodeInvalidInput     = "invalid_input"
	CodeNotConfigured    = "bank_not_configured"
	CodeConsentDenied    = "consent_denied"
	CodeUpstreamAuth     = "upstream_auth_error"
	CodeUpstreamTimeout  = "upstream_timeout"
	CodeUpstream         = "upstream_error"
	CodeAllBanksDown     = "all_banks_unavailable"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal_error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	failures   []core.PartialFailure
	body       any
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

// PartialFailures annotates the response with the banks excluded from it.
func (b *JSONResponseBuilder) PartialFailures(failures []core.PartialFailure) *JSONResponseBuilder {
	b.failures = append(b.failures, failures...)
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if v := FormatPartialFailures(b.failures); v != "" {
		w.Header().Set(PartialFailuresHeader, v)
	}

	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// FormatPartialFailures renders failures in header form, e.g. "abank=timeout,sbank=auth_error".
func FormatPartialFailures(failures []core.PartialFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ",")
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(ctx context.Context, statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: message, Code: code, RequestID: trace.GetRequestID(ctx)})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(ctx context.Context, message string) *JSONResponseBuilder {
	return ErrorResponse(ctx, http.StatusBadRequest, CodeInvalidInput, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(ctx context.Context, message string) *JSONResponseBuilder {
	return ErrorResponse(ctx, http.StatusInternalServerError, CodeInternal, message)
}

// ErrorFor maps err onto a status code and error body. Failures of a
// multi-bank fan-out keep their annotations.
func ErrorFor(ctx context.Context, err error) *JSONResponseBuilder {
	status, code := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	body := ErrorBody{Error: message, Code: code, RequestID: trace.GetRequestID(ctx)}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}

	b := NewJSONResponse().Status(status).Body(body)
	var all *core.AllBanksError
	if errors.As(err, &all) {
		b.PartialFailures(all.Failures)
	}
	return b
}

// statusForError is the single place errors become HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrUnknownBank):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, core.ErrBankNotConfigured):
		return http.StatusBadRequest, CodeNotConfigured
	case errors.Is(err, core.ErrConsentDenied):
		return http.StatusForbidden, CodeConsentDenied
	case errors.Is(err, core.ErrAllBanksUnavailable):
		return http.StatusServiceUnavailable, CodeAllBanksDown
	case errors.Is(err, core.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeUpstreamTimeout
	case errors.Is(err, core.ErrUpstreamAuth):
		return http.StatusBadGateway, CodeUpstreamAuth
	case errors.Is(err, core.ErrUpstream),
		errors.Is(err, core.ErrConsentRequired),
		errors.Is(err, core.ErrConsentPending):
		return http.StatusBadGateway, CodeUpstream
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
