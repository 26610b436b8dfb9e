package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finguru/internal/log"
	"finguru/internal/metrics"
)

func TestMiddleware_AssignsRequestIDAndRecordsRoute(t *testing.T) {
	m := metrics.New()
	var seenID string
	var seenLogger *log.Logger

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		seenLogger = log.FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	handler := NewMiddleware(nil, nil, m).Middleware(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things/42", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, strings.HasPrefix(seenID, "req_"))
	assert.Equal(t, seenID, rec.Header().Get(RequestIDHeader))
	require.NotNil(t, seenLogger)
	assert.Equal(t, log.ComponentTrace, seenLogger.Component())

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "GET /api/things/{id}", "202"))
	assert.Equal(t, 1.0, got)
}

func TestMiddleware_KeepsCallerRequestID(t *testing.T) {
	handler := NewMiddleware(nil, nil, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "has spaces\n")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "has spaces\n", rec.Header().Get(RequestIDHeader))
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("req_")+16)
}
