package defense

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/state"
)

func TestSecondsRoundTrip(t *testing.T) {
	ts := time.Unix(1_700_000_000, 250_000_000)
	assert.InDelta(t, 1_700_000_000.25, Seconds(ts), 1e-6)
	assert.WithinDuration(t, ts, FromSeconds(Seconds(ts)), time.Microsecond)
}

func TestRateWindowPrune(t *testing.T) {
	w := RateWindow{Requests: []float64{10, 10.5, 11.2}, LastCleanup: 10}
	expired := w.Prune(11.4, time.Second, time.Minute)
	assert.False(t, expired)
	assert.Equal(t, []float64{10.5, 11.2}, w.Requests)

	expired = w.Prune(100, time.Second, time.Minute)
	assert.True(t, expired)
	assert.Empty(t, w.Requests)

	recent := RateWindow{LastCleanup: 90}
	assert.False(t, recent.Prune(100, time.Second, time.Minute), "an empty window cleaned recently is not idle")
}

func TestTotalTrappedReadsCorruptAsZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Equal(t, int64(0), TotalTrapped(ctx, store))

	require.NoError(t, store.Set(ctx, state.TotalTrappedKey, []byte("x"), 0))
	assert.Equal(t, int64(0), TotalTrapped(ctx, store))

	require.NoError(t, store.Set(ctx, state.TotalTrappedKey, []byte("41"), 0))
	_, err := store.Increment(ctx, state.TotalTrappedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(42), TotalTrapped(ctx, store))
}
