package http

import (
	"net/http"
	"strings"

	"finguru/internal/core"
	"finguru/internal/log"
)

const maxInputLen = 500

// sanitizeInput removes control characters, trims whitespace and caps the length.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	if len(result) > maxInputLen {
		result = result[:maxInputLen]
	}
	return result
}

// requestLogger returns the request-scoped logger placed by the trace middleware.
func requestLogger(r *http.Request) *log.Logger {
	return log.FromContext(r.Context()).WithComponent(log.ComponentHTTP)
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// failureFields flattens partial failures into log attributes.
func failureFields(failures []core.PartialFailure) []any {
	if len(failures) == 0 {
		return nil
	}
	return []any{"partial_failures", FormatPartialFailures(failures)}
}
