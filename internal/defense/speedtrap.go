package defense

import (
	"context"
	"time"

	"github.com/krewdev/bluetrap/internal/state"
)

// DefaultSpeedTrapThreshold is the minimum gap between two requests from a
// client before it is considered automated.
const DefaultSpeedTrapThreshold = 500 * time.Millisecond

// MazeEntrance is where speed-trapped clients are redirected.
const MazeEntrance = "/maze/1"

// Verdict is the result of a speed-trap evaluation.
type Verdict struct {
	Redirect bool
	// Delta is the gap to the previous request in seconds; zero on first sight.
	Delta     float64
	FirstSeen bool
}

// SpeedTrap flags clients whose consecutive requests arrive faster than the threshold.
type SpeedTrap struct {
	store     state.Store
	threshold time.Duration
}

// NewSpeedTrap creates a detector; a non-positive threshold uses the default.
func NewSpeedTrap(store state.Store, threshold time.Duration) *SpeedTrap {
	if threshold <= 0 {
		threshold = DefaultSpeedTrapThreshold
	}
	return &SpeedTrap{store: store, threshold: threshold}
}

// Threshold returns the configured gap.
func (s *SpeedTrap) Threshold() time.Duration {
	return s.threshold
}

// Evaluate records now as the client's latest request and compares it with
// the previous one. The write happens before the comparison so concurrent
// requests from one client each see some predecessor.
func (s *SpeedTrap) Evaluate(ctx context.Context, clientID string, now time.Time) Verdict {
	previous, seen := s.record(ctx, clientID, now)
	if !seen {
		return Verdict{FirstSeen: true}
	}

	delta := Seconds(now) - previous
	return Verdict{
		Redirect: delta < s.threshold.Seconds(),
		Delta:    delta,
	}
}

// Record stores now as the client's latest request without evaluating it.
// Authenticated agents use this so their traffic still shows up in analytics.
func (s *SpeedTrap) Record(ctx context.Context, clientID string, now time.Time) {
	s.record(ctx, clientID, now)
}

func (s *SpeedTrap) record(ctx context.Context, clientID string, now time.Time) (float64, bool) {
	key := state.RequestKey(clientID)
	previous, seen := loadFloat(ctx, s.store, key)

	// Never move the stored timestamp backwards.
	latest := Seconds(now)
	if seen && previous > latest {
		latest = previous
	}
	_ = s.store.Set(ctx, key, formatFloat(latest), state.RequestTTL)

	return previous, seen
}
