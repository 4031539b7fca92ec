package metrics

import (
	"time"

	"github.com/krewdev/bluetrap/internal/observability"
)

// Server lifecycle and health metric names
const (
	HealthCheckTotalName    = "health_check_total"
	HealthCheckDurationName = "health_check_duration_ms"
	ServerStartTimeName     = "server_start_time_seconds"
)

// RecordHealthCheck records one checker run with its result (healthy, degraded, unhealthy)
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotalName,
		1,
		map[string]string{
			"check":  checkName,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDurationName,
		duration,
		map[string]string{"check": checkName},
	)
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTimeName, float64(timestamp), nil)
	}
}
