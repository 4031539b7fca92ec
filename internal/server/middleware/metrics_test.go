package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	config := &telemetry.Config{
		Enabled: true,
		Emitter: collector,
	}

	sys, err := telemetry.NewSystem(config)
	require.NoError(t, err)

	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = sys

	t.Cleanup(func() {
		observability.TelemetrySystem = originalTelemetry
	})

	return collector
}

func serveWithMetrics(handler http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	RequestMetrics(handler).ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRequestMetrics_EmitsRequestSeries(t *testing.T) {
	collector := setupTelemetry(t)

	rec := serveWithMetrics(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"OMNEE Protocol"}`))
	}, http.MethodGet, "/me")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"name":"OMNEE Protocol"}`, rec.Body.String())

	for _, name := range []string{"http_requests_total", "http_request_duration_ms", "http_response_size_bytes"} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, "expected %s", name)
	}
	assert.Equal(t, 0, collector.CountMetricsByName("http_errors_total"))
}

func TestRequestMetrics_WithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	rec := serveWithMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}, http.MethodGet, "/me")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestMetrics_CountsErrors(t *testing.T) {
	collector := setupTelemetry(t)

	serveWithMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, http.MethodGet, "/maze/51")
	serveWithMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, http.MethodGet, "/stats/trapped")

	assert.Equal(t, 2, collector.CountMetricsByName("http_requests_total"))
	assert.Equal(t, 2, collector.CountMetricsByName("http_errors_total"))
}

func TestRequestMetrics_BehindRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestID(RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scan-42", GetRequestID(r.Context()))
	})))

	req := httptest.NewRequest(http.MethodGet, "/wp-login.php", nil)
	req.Header.Set(RequestIDHeader, "scan-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "scan-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, 1, collector.CountMetricsByName("http_requests_total"))
}

func TestRequestMetrics_ImplicitStatusAndRedirects(t *testing.T) {
	collector := setupTelemetry(t)

	implicit := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("no explicit header"))
	}))
	rec := httptest.NewRecorder()
	implicit.ServeHTTP(rec, httptest.NewRequest("GET", "/me", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	redirect := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/maze/1", http.StatusTemporaryRedirect)
	}))
	rec = httptest.NewRecorder()
	redirect.ServeHTTP(rec, httptest.NewRequest("GET", "/me", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	assert.Equal(t, 2, collector.CountMetricsByName("http_requests_total"))
	assert.Equal(t, 0, collector.CountMetricsByName("http_errors_total"),
		"redirects into the maze are not errors")
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusTooManyRequests)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("abc"))

	assert.Equal(t, http.StatusTooManyRequests, rec.status)
	assert.EqualValues(t, 3, rec.bytesWritten)
	assert.NotNil(t, rec.Unwrap())
}

func TestNoisyEndpoint(t *testing.T) {
	assert.True(t, noisyEndpoint("/maze/{level}"))
	assert.True(t, noisyEndpoint("/unknown"))
	assert.False(t, noisyEndpoint("/me"))
}

func TestGetEndpointPattern_StandardPaths(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/live", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/health/startup", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/maze/1", "/maze/{level}"},
		{"/maze/37", "/maze/{level}"},
		{"/verify-wallet/0xabc", "/verify-wallet/{address}"},
		{"/stats/trapped", "/stats/trapped"},
		{"/me", "/me"},
		{"/generate-key", "/generate-key"},
		{"/wp-admin/setup.php", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			pattern := getEndpointPattern(req)
			assert.Equal(t, tt.expected, pattern, "Path %s should map to pattern %s", tt.path, tt.expected)
		})
	}
}

