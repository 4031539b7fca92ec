package metrics

import (
	"time"

	"github.com/krewdev/bluetrap/internal/observability"
)

// Defense metric names
const (
	SpeedTrapRedirectsName = "speed_trap_redirects_total"
	MazeRequestsName       = "maze_requests_total"
	BotsTrappedName        = "bots_trapped_total"
	AgentAuthName          = "agent_auth_total"
	JanitorSweepsName      = "janitor_sweeps_total"
	JanitorDeletedName     = "janitor_last_sweep_deleted"
	JanitorSweepName       = "janitor_sweep_duration_ms"
	StoreFallbackName      = "state_store_fallback"
	KeysIssuedName         = "agent_keys_issued_total"
)

// RecordSpeedTrapRedirect records a client redirected into the maze
func RecordSpeedTrapRedirect() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(SpeedTrapRedirectsName, 1, nil)
	}
}

// RecordMazeRequest records a maze guard decision (admitted, rate_limited, depth_exceeded)
func RecordMazeRequest(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			MazeRequestsName,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordBotTrapped records a first capture
func RecordBotTrapped() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(BotsTrappedName, 1, nil)
	}
}

// RecordAgentAuth records a credential gate result
func RecordAgentAuth(authenticated bool) {
	result := "rejected"
	if authenticated {
		result = "accepted"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AgentAuthName,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordJanitorSweep records a completed sweep, its duration and how many
// records of each kind it removed
func RecordJanitorSweep(duration time.Duration, deleted map[string]int) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(JanitorSweepsName, 1, nil)
	_ = observability.TelemetrySystem.Histogram(JanitorSweepName, duration, nil)
	for kind, count := range deleted {
		_ = observability.TelemetrySystem.Gauge(
			JanitorDeletedName,
			float64(count),
			map[string]string{"kind": kind},
		)
	}
}

// SetStoreFallback flags whether the state store is serving from the in-process fallback
func SetStoreFallback(fallback bool) {
	value := 0.0
	if fallback {
		value = 1
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(StoreFallbackName, value, nil)
	}
}

// RecordKeyIssued records an agent key issuance
func RecordKeyIssued() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(KeysIssuedName, 1, nil)
	}
}
