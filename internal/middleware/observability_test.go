package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultlite/internal/metrics"
	"vaultlite/internal/tracing"
)

func newTestHandler(t *testing.T, inner http.HandlerFunc) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Observability(logger)(inner)
}

func TestObservabilityAddsRequestID(t *testing.T) {
	var seenID string
	handler := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		seenID = tracing.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
}

func TestObservabilityPreservesIncomingRequestID(t *testing.T) {
	handler := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req_incoming")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_incoming", rec.Header().Get("X-Request-ID"))
}

func TestObservabilityRecordsMetrics(t *testing.T) {
	metrics.GetRegistry().Reset()
	defer metrics.GetRegistry().Reset()

	handler := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	}

	assert.Equal(t, float64(3), metrics.GetRegistry().CounterValue("http_requests_total"))
	assert.Equal(t, float64(0), metrics.GetRegistry().CounterValue("http_errors_total"))
}

func TestObservabilityCountsServerErrors(t *testing.T) {
	metrics.GetRegistry().Reset()
	defer metrics.GetRegistry().Reset()

	handler := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, float64(1), metrics.GetRegistry().CounterValue("http_errors_total"))
}

func TestResponseWrapperCapturesSize(t *testing.T) {
	handler := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}
