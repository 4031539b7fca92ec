package defense

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/state"
)

func TestSnapshotEmpty(t *testing.T) {
	guard := NewGuard(newTestStore(t), Limits{}, nil)

	stats := guard.Snapshot(context.Background(), testBase, DefaultSpeedTrapThreshold)
	assert.Equal(t, int64(0), stats.TrappedCount)
	assert.NotNil(t, stats.ActiveBots)
	assert.Empty(t, stats.ActiveBots)
	assert.Empty(t, stats.RateLimitedBots)
	assert.Equal(t, state.ModeFallback, stats.Storage)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"activeBots":[]`)
	assert.Contains(t, string(raw), `"rateLimitedBots":[]`)
	assert.Contains(t, string(raw), `"storage":"fallback"`)
}

func TestSnapshotAggregates(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(newTestStore(t), Limits{MaxLevels: 3}, nil)

	// 9.9.9.9 goes past the depth cap.
	for i := 0; i < 5; i++ {
		guard.Admit(ctx, "9.9.9.9", i+1, at(testBase, float64(i)*0.3))
	}
	// 1.1.1.1 is active but shallow.
	guard.Admit(ctx, "1.1.1.1", 2, at(testBase, 1))
	// 5.5.5.5 was trapped long ago.
	guard.Admit(ctx, "5.5.5.5", 1, at(testBase, -120))

	stats := guard.Snapshot(ctx, at(testBase, 2), 750*time.Millisecond)

	assert.Equal(t, int64(3), stats.TrappedCount)
	require.Len(t, stats.ActiveBots, 2)
	assert.Equal(t, "1.1.1.1", stats.ActiveBots[0].IP)
	assert.Equal(t, 2, stats.ActiveBots[0].Level)
	assert.Equal(t, 1, stats.ActiveBots[0].Visits)
	assert.False(t, stats.ActiveBots[0].RateLimited)

	assert.Equal(t, "9.9.9.9", stats.ActiveBots[1].IP)
	assert.Equal(t, 3, stats.ActiveBots[1].Level, "the trap records the last admitted level")
	assert.Equal(t, 5, stats.ActiveBots[1].Visits)
	assert.Equal(t, 5, stats.ActiveBots[1].MaxLevel)
	assert.True(t, stats.ActiveBots[1].RateLimited)

	assert.Equal(t, 1, stats.RateLimited)
	require.Len(t, stats.RateLimitedBots, 1)
	assert.Equal(t, "9.9.9.9", stats.RateLimitedBots[0].IP)
	assert.Equal(t, 5, stats.RateLimitedBots[0].Visits)

	assert.Equal(t, 3, stats.Limits.MaxMazeLevels)
	assert.Equal(t, 10, stats.Limits.MaxRequestsPerSecond)
	assert.InDelta(t, 1.0, stats.Limits.RateLimitWindowSeconds, 1e-9)
	assert.InDelta(t, 0.75, stats.Limits.SpeedTrapThresholdSeconds, 1e-9)
	assert.InDelta(t, 30.0, stats.Limits.ActiveWindowSeconds, 1e-9)
}

func TestSnapshotSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store, Limits{}, nil)

	require.NoError(t, store.Set(ctx, state.TrapKey("bad"), []byte("nope"), time.Minute))
	require.NoError(t, store.Set(ctx, state.VisitsKey("bad"), []byte("nope"), time.Minute))
	guard.Admit(ctx, "good", 1, testBase)

	stats := guard.Snapshot(ctx, testBase, DefaultSpeedTrapThreshold)
	require.Len(t, stats.ActiveBots, 1)
	assert.Equal(t, "good", stats.ActiveBots[0].IP)
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store, Limits{}, nil)
	guard.Admit(ctx, "1.2.3.4", 1, testBase)

	before, err := store.GetAll(ctx, "*")
	require.NoError(t, err)

	guard.Snapshot(ctx, at(testBase, 3600), DefaultSpeedTrapThreshold)

	after, err := store.GetAll(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
