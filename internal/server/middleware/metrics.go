package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// getEndpointPattern returns the chi route pattern, or a fixed bucket for
// paths chi did not match, so scanner traffic cannot explode label cardinality.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case strings.HasPrefix(path, "/maze/"):
		return "/maze/{level}"
	case strings.HasPrefix(path, "/verify-wallet/"):
		return "/verify-wallet/{address}"
	case path == "/version", path == "/metrics", path == "/stats/trapped",
		path == "/me", path == "/generate-key", path == "/":
		return path
	default:
		return "/unknown"
	}
}

// noisyEndpoint reports endpoints that trapped bots hammer; their request
// logs drop to debug.
func noisyEndpoint(endpoint string) bool {
	return endpoint == "/maze/{level}" || endpoint == "/unknown"
}

// RequestMetrics emits per-request Prometheus metrics and a completion log line.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := getEndpointPattern(r)

		emitRequestMetrics(r.Method, endpoint, rec, duration)
		logRequest(r, endpoint, rec, duration)
	})
}

func emitRequestMetrics(method, endpoint string, rec *statusRecorder, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := strconv.Itoa(rec.status)
	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   status,
	}

	_ = sys.Counter("http_requests_total", 1, labels)
	_ = sys.Histogram("http_request_duration_ms", duration, labels)
	_ = sys.Gauge("http_response_size_bytes", float64(rec.bytesWritten), map[string]string{
		"method":   method,
		"endpoint": endpoint,
	})

	if rec.status >= http.StatusBadRequest {
		errorType := "client_error"
		if rec.status >= http.StatusInternalServerError {
			errorType = "server_error"
		}
		_ = sys.Counter("http_errors_total", 1, map[string]string{
			"method":     method,
			"endpoint":   endpoint,
			"status":     status,
			"error_type": errorType,
		})
	}
}

func logRequest(r *http.Request, endpoint string, rec *statusRecorder, duration time.Duration) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("endpoint", endpoint),
		zap.Int("status", rec.status),
		zap.Duration("duration", duration),
		zap.Int64("response_size", rec.bytesWritten),
		zap.String("client", GetClientID(r)),
		zap.String("requestID", GetRequestID(r.Context())),
	}

	if noisyEndpoint(endpoint) {
		logger.Debug("HTTP request completed", fields...)
		return
	}
	logger.Info("HTTP request completed", fields...)
}
