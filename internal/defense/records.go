// Package defense implements the bot-trapping layer: the credential gate,
// the speed-trap detector, the maze guard, trap statistics and the janitor
// that keeps per-client state bounded.
package defense

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/krewdev/bluetrap/internal/state"
)

// ActiveTrap is stored under trap:<id> while a client wanders the maze.
type ActiveTrap struct {
	Level    int     `json:"level"`
	LastSeen float64 `json:"lastSeen"`
}

// VisitRecord is stored under maze:visits:<id>.
type VisitRecord struct {
	Count      int     `json:"count"`
	FirstVisit float64 `json:"firstVisit"`
	LastVisit  float64 `json:"lastVisit"`
	MaxLevel   int     `json:"maxLevel"`
}

// RateWindow is stored under maze:rate:<id>. Requests holds the admitted
// request times inside the sliding window, oldest first.
type RateWindow struct {
	Requests    []float64 `json:"requests"`
	LastCleanup float64   `json:"lastCleanup"`
}

// Prune drops requests at least window old and reports whether the window
// is now empty and has been idle for longer than idle.
func (w *RateWindow) Prune(now float64, window, idle time.Duration) (expired bool) {
	kept := w.Requests[:0]
	for _, ts := range w.Requests {
		if now-ts < window.Seconds() {
			kept = append(kept, ts)
		}
	}
	w.Requests = kept
	return len(w.Requests) == 0 && now-w.LastCleanup > idle.Seconds()
}

// Seconds converts t to fractional seconds since the Unix epoch, the
// timestamp unit used by every persisted record.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds is the inverse of Seconds.
func FromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}

func loadJSON(ctx context.Context, store state.Store, key string, dst any) (bool, error) {
	raw, ok := store.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, store state.Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Set(ctx, key, raw, ttl)
}

func loadFloat(ctx context.Context, store state.Store, key string) (float64, bool) {
	raw, ok := store.Get(ctx, key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatFloat(f float64) []byte {
	return []byte(strconv.FormatFloat(f, 'f', -1, 64))
}

// TotalTrapped reads the global capture counter; a missing or corrupt value reads as 0.
func TotalTrapped(ctx context.Context, store state.Store) int64 {
	raw, ok := store.Get(ctx, state.TotalTrappedKey)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
