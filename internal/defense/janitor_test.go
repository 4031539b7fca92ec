package defense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/state"
)

func seedClient(t *testing.T, store state.Store, id string, lastSeen float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, saveJSON(ctx, store, state.TrapKey(id), ActiveTrap{Level: 2, LastSeen: lastSeen}, time.Hour))
	require.NoError(t, saveJSON(ctx, store, state.VisitsKey(id), VisitRecord{Count: 2, FirstVisit: lastSeen, LastVisit: lastSeen, MaxLevel: 2}, time.Hour))
	require.NoError(t, saveJSON(ctx, store, state.RateKey(id), RateWindow{Requests: []float64{lastSeen}, LastCleanup: lastSeen}, time.Hour))
}

func TestJanitorSweepRemovesStaleState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	seedClient(t, store, "fresh", Seconds(now)-0.5)
	seedClient(t, store, "idle", Seconds(now)-7200)

	janitor := NewJanitor(store, JanitorConfig{}, nil)
	result := janitor.Sweep(ctx, now)

	assert.Equal(t, 1, result.VisitsDeleted)
	assert.Equal(t, 1, result.TrapsDeleted)
	assert.Equal(t, 1, result.RateWindowsDeleted)
	assert.Equal(t, 0, result.Failures)

	assert.True(t, store.Exists(ctx, state.TrapKey("fresh")))
	assert.True(t, store.Exists(ctx, state.VisitsKey("fresh")))
	assert.True(t, store.Exists(ctx, state.RateKey("fresh")))

	assert.False(t, store.Exists(ctx, state.TrapKey("idle")))
	assert.False(t, store.Exists(ctx, state.VisitsKey("idle")))
	assert.False(t, store.Exists(ctx, state.RateKey("idle")))
}

func TestJanitorThresholds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	// Trap idle 4 minutes survives; visits older than an hour go.
	require.NoError(t, saveJSON(ctx, store, state.TrapKey("a"), ActiveTrap{Level: 1, LastSeen: Seconds(now) - 240}, time.Hour))
	require.NoError(t, saveJSON(ctx, store, state.TrapKey("b"), ActiveTrap{Level: 1, LastSeen: Seconds(now) - 301}, time.Hour))
	require.NoError(t, saveJSON(ctx, store, state.VisitsKey("a"), VisitRecord{Count: 1, LastVisit: Seconds(now) - 3500}, time.Hour))
	require.NoError(t, saveJSON(ctx, store, state.VisitsKey("b"), VisitRecord{Count: 1, LastVisit: Seconds(now) - 3601}, time.Hour))

	result := NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, now)
	assert.Equal(t, 1, result.TrapsDeleted)
	assert.Equal(t, 1, result.VisitsDeleted)

	assert.True(t, store.Exists(ctx, state.TrapKey("a")))
	assert.False(t, store.Exists(ctx, state.TrapKey("b")))
	assert.True(t, store.Exists(ctx, state.VisitsKey("a")))
	assert.False(t, store.Exists(ctx, state.VisitsKey("b")))
}

func TestJanitorPrunesRateWindows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	nowSec := Seconds(testBase)

	// Partly stale window is rewritten, not deleted.
	require.NoError(t, saveJSON(ctx, store, state.RateKey("busy"),
		RateWindow{Requests: []float64{nowSec - 5, nowSec - 0.5}, LastCleanup: nowSec - 5}, time.Hour))
	// Empty but recently cleaned window is kept.
	require.NoError(t, saveJSON(ctx, store, state.RateKey("quiet"),
		RateWindow{Requests: []float64{}, LastCleanup: nowSec - 10}, time.Hour))

	result := NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, testBase)
	assert.Equal(t, 1, result.RateWindowsPruned)
	assert.Equal(t, 0, result.RateWindowsDeleted)

	var busy RateWindow
	found, err := loadJSON(ctx, store, state.RateKey("busy"), &busy)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{nowSec - 0.5}, busy.Requests)
	assert.InDelta(t, nowSec, busy.LastCleanup, 1e-6)

	// A minute later both windows are empty and idle.
	result = NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, at(testBase, 120))
	assert.Equal(t, 2, result.RateWindowsDeleted)
}

func TestJanitorDeletesUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, state.TrapKey("x"), []byte("garbage"), time.Hour))
	require.NoError(t, store.Set(ctx, state.VisitsKey("x"), []byte("garbage"), time.Hour))
	require.NoError(t, store.Set(ctx, state.RateKey("x"), []byte("garbage"), time.Hour))

	result := NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, testBase)
	assert.Equal(t, 1, result.TrapsDeleted)
	assert.Equal(t, 1, result.VisitsDeleted)
	assert.Equal(t, 1, result.RateWindowsDeleted)
}

func TestJanitorLeavesOtherKeysAlone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Increment(ctx, state.TotalTrappedKey)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, state.RequestKey("1.2.3.4"), []byte("1"), time.Hour))

	NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, at(testBase, 86400))
	assert.Equal(t, int64(1), TotalTrapped(ctx, store))
	assert.True(t, store.Exists(ctx, state.RequestKey("1.2.3.4")))
}

// failingDeleteStore rejects deletes for one key.
type failingDeleteStore struct {
	state.Store
	failKey string
}

func (s failingDeleteStore) Delete(ctx context.Context, key string) error {
	if key == s.failKey {
		return errors.New("delete refused")
	}
	return s.Store.Delete(ctx, key)
}

func TestJanitorContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	inner := newTestStore(t)
	seedClient(t, inner, "a", Seconds(testBase)-7200)
	seedClient(t, inner, "b", Seconds(testBase)-7200)

	store := failingDeleteStore{Store: inner, failKey: state.TrapKey("a")}
	result := NewJanitor(store, JanitorConfig{}, nil).Sweep(ctx, testBase)

	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, 1, result.TrapsDeleted)
	assert.Equal(t, 2, result.VisitsDeleted)
	assert.Equal(t, 2, result.RateWindowsDeleted)
	assert.True(t, inner.Exists(ctx, state.TrapKey("a")))
	assert.False(t, inner.Exists(ctx, state.TrapKey("b")))
}

func TestJanitorStartStop(t *testing.T) {
	collector := setupTelemetry(t)
	store := newTestStore(t)
	seedClient(t, store, "old", Seconds(time.Now())-7200)

	janitor := NewJanitor(store, JanitorConfig{Interval: 10 * time.Millisecond}, nil)
	janitor.Start(context.Background())
	janitor.Start(context.Background())

	require.Eventually(t, func() bool {
		return !store.Exists(context.Background(), state.TrapKey("old"))
	}, 2*time.Second, 10*time.Millisecond)

	janitor.Stop()
	janitor.Stop()

	assert.Greater(t, collector.CountMetricsByName("janitor_sweeps_total"), 0)
}

func TestJanitorRestartsAfterStop(t *testing.T) {
	store := newTestStore(t)
	janitor := NewJanitor(store, JanitorConfig{Interval: 10 * time.Millisecond}, nil)

	janitor.Start(context.Background())
	janitor.Stop()

	seedClient(t, store, "late", Seconds(time.Now())-7200)
	janitor.Start(context.Background())
	t.Cleanup(janitor.Stop)

	require.Eventually(t, func() bool {
		return !store.Exists(context.Background(), state.TrapKey("late"))
	}, 2*time.Second, 10*time.Millisecond, "restarted janitor must keep sweeping")
}

func TestJanitorRunStopsOnContext(t *testing.T) {
	janitor := NewJanitor(newTestStore(t), JanitorConfig{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
