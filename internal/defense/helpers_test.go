package defense

import (
	"context"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/state"
)

// newTestStore returns a fallback-only store. Entry TTLs run on the wall
// clock while the tests drive component clocks explicitly, so records never
// expire mid-test.
func newTestStore(t *testing.T) *state.Tiered {
	t.Helper()
	store := state.NewTiered(context.Background(), nil, state.NewMemory(), state.TieredOptions{})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

// testBase is a whole second so that fractional offsets like 0.5s are exact
// in float seconds.
var testBase = time.Unix(1_700_000_000, 0)

func at(base time.Time, seconds float64) time.Time {
	return base.Add(time.Duration(seconds * float64(time.Second)))
}
