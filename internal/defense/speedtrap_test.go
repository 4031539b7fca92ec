package defense

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/state"
)

func TestSpeedTrapFirstRequestProceeds(t *testing.T) {
	store := newTestStore(t)
	trap := NewSpeedTrap(store, 0)
	assert.Equal(t, DefaultSpeedTrapThreshold, trap.Threshold())

	verdict := trap.Evaluate(context.Background(), "1.2.3.4", testBase)
	assert.False(t, verdict.Redirect)
	assert.True(t, verdict.FirstSeen)
	assert.True(t, store.Exists(context.Background(), state.RequestKey("1.2.3.4")))
}

func TestSpeedTrapFastSecondRequestRedirects(t *testing.T) {
	ctx := context.Background()
	trap := NewSpeedTrap(newTestStore(t), 500*time.Millisecond)
	base := testBase

	require.False(t, trap.Evaluate(ctx, "1.2.3.4", at(base, 0)).Redirect)

	verdict := trap.Evaluate(ctx, "1.2.3.4", at(base, 0.2))
	assert.True(t, verdict.Redirect)
	assert.InDelta(t, 0.2, verdict.Delta, 1e-6)
}

func TestSpeedTrapSlowRequestsProceed(t *testing.T) {
	ctx := context.Background()
	trap := NewSpeedTrap(newTestStore(t), 500*time.Millisecond)
	base := testBase

	trap.Evaluate(ctx, "1.2.3.4", at(base, 0))
	assert.False(t, trap.Evaluate(ctx, "1.2.3.4", at(base, 0.5)).Redirect, "a gap equal to the threshold proceeds")
	assert.False(t, trap.Evaluate(ctx, "1.2.3.4", at(base, 1.7)).Redirect)
}

func TestSpeedTrapClientsAreIndependent(t *testing.T) {
	ctx := context.Background()
	trap := NewSpeedTrap(newTestStore(t), 500*time.Millisecond)
	base := testBase

	trap.Evaluate(ctx, "1.2.3.4", at(base, 0))
	assert.False(t, trap.Evaluate(ctx, "5.6.7.8", at(base, 0.1)).Redirect)
}

func TestSpeedTrapTimestampNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	trap := NewSpeedTrap(store, 500*time.Millisecond)
	base := testBase

	trap.Record(ctx, "1.2.3.4", at(base, 10))
	trap.Record(ctx, "1.2.3.4", at(base, 5))

	stored, ok := loadFloat(ctx, store, state.RequestKey("1.2.3.4"))
	require.True(t, ok)
	assert.InDelta(t, Seconds(at(base, 10)), stored, 1e-6)
}

func TestSpeedTrapRecordFeedsLaterEvaluation(t *testing.T) {
	ctx := context.Background()
	trap := NewSpeedTrap(newTestStore(t), 500*time.Millisecond)
	base := testBase

	trap.Record(ctx, "1.2.3.4", at(base, 0))
	verdict := trap.Evaluate(ctx, "1.2.3.4", at(base, 0.1))
	assert.True(t, verdict.Redirect)
	assert.False(t, verdict.FirstSeen)
}
