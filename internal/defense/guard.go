package defense

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/metrics"
	"github.com/krewdev/bluetrap/internal/state"
)

// Default maze limits.
const (
	DefaultMaxLevels            = 50
	DefaultMaxRequestsPerSecond = 10
	DefaultRateWindow           = time.Second
	DefaultRateIdle             = 60 * time.Second
	DefaultActiveWindow         = 30 * time.Second
)

// Limits bounds how much a trapped client can consume.
type Limits struct {
	MaxLevels            int
	MaxRequestsPerSecond int
	RateWindow           time.Duration
	RateIdle             time.Duration
	ActiveWindow         time.Duration
}

// DefaultLimits returns the stock maze limits.
func DefaultLimits() Limits {
	return Limits{
		MaxLevels:            DefaultMaxLevels,
		MaxRequestsPerSecond: DefaultMaxRequestsPerSecond,
		RateWindow:           DefaultRateWindow,
		RateIdle:             DefaultRateIdle,
		ActiveWindow:         DefaultActiveWindow,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxLevels <= 0 {
		l.MaxLevels = d.MaxLevels
	}
	if l.MaxRequestsPerSecond <= 0 {
		l.MaxRequestsPerSecond = d.MaxRequestsPerSecond
	}
	if l.RateWindow <= 0 {
		l.RateWindow = d.RateWindow
	}
	if l.RateIdle <= 0 {
		l.RateIdle = d.RateIdle
	}
	if l.ActiveWindow <= 0 {
		l.ActiveWindow = d.ActiveWindow
	}
	return l
}

// Outcome is the guard's verdict on a maze request.
type Outcome string

const (
	OutcomeAdmitted      Outcome = "admitted"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeDepthExceeded Outcome = "depth_exceeded"
)

// Decision carries the outcome plus what the 429 page needs to show.
type Decision struct {
	Outcome      Outcome
	Visits       int
	MaxLevel     int
	NewlyTrapped bool
}

// Guard applies the rate and depth gates in front of the maze and tracks
// active traps.
type Guard struct {
	store  state.Store
	limits Limits
	logger *logging.Logger
}

// NewGuard creates a guard. Zero-valued limits take their defaults.
func NewGuard(store state.Store, limits Limits, logger *logging.Logger) *Guard {
	return &Guard{store: store, limits: limits.withDefaults(), logger: logger}
}

// Limits returns the effective limits.
func (g *Guard) Limits() Limits {
	return g.limits
}

// Admit runs the rate gate, then the depth gate, and records the trap on success.
// A rate-limited request never reaches the depth gate.
func (g *Guard) Admit(ctx context.Context, clientID string, level int, now time.Time) Decision {
	if level < 1 {
		level = 1
	}

	if !g.allowRate(ctx, clientID, now) {
		metrics.RecordMazeRequest(string(OutcomeRateLimited))
		g.log("Maze rate limit exceeded", clientID, zap.Int("limit", g.limits.MaxRequestsPerSecond))
		return Decision{Outcome: OutcomeRateLimited}
	}

	visits := g.recordVisit(ctx, clientID, level, now)
	if visits.Count > g.limits.MaxLevels {
		metrics.RecordMazeRequest(string(OutcomeDepthExceeded))
		g.log("Maze level cap exceeded", clientID,
			zap.Int("visits", visits.Count),
			zap.Int("max_level", visits.MaxLevel))
		return Decision{
			Outcome:  OutcomeDepthExceeded,
			Visits:   visits.Count,
			MaxLevel: visits.MaxLevel,
		}
	}

	newly := g.markTrapped(ctx, clientID, level, now)
	metrics.RecordMazeRequest(string(OutcomeAdmitted))

	return Decision{
		Outcome:      OutcomeAdmitted,
		Visits:       visits.Count,
		MaxLevel:     visits.MaxLevel,
		NewlyTrapped: newly,
	}
}

// allowRate implements the sliding window. A rejected request is not added
// to the window.
func (g *Guard) allowRate(ctx context.Context, clientID string, now time.Time) bool {
	key := state.RateKey(clientID)
	ts := Seconds(now)

	var window RateWindow
	found, err := loadJSON(ctx, g.store, key, &window)
	if !found || err != nil {
		window = RateWindow{Requests: []float64{ts}, LastCleanup: ts}
		_ = saveJSON(ctx, g.store, key, window, state.RateTTL)
		return true
	}

	window.Prune(ts, g.limits.RateWindow, g.limits.RateIdle)
	window.LastCleanup = ts

	if len(window.Requests) >= g.limits.MaxRequestsPerSecond {
		_ = saveJSON(ctx, g.store, key, window, state.RateTTL)
		return false
	}

	window.Requests = append(window.Requests, ts)
	_ = saveJSON(ctx, g.store, key, window, state.RateTTL)
	return true
}

// recordVisit increments the visit counter. It counts every request that
// passes the rate gate, including those the depth gate then rejects.
func (g *Guard) recordVisit(ctx context.Context, clientID string, level int, now time.Time) VisitRecord {
	key := state.VisitsKey(clientID)
	ts := Seconds(now)

	var visits VisitRecord
	found, err := loadJSON(ctx, g.store, key, &visits)
	if !found || err != nil {
		visits = VisitRecord{Count: 1, FirstVisit: ts, LastVisit: ts, MaxLevel: level}
	} else {
		visits.Count++
		visits.LastVisit = ts
		visits.MaxLevel = max(visits.MaxLevel, level)
	}

	_ = saveJSON(ctx, g.store, key, visits, state.VisitsTTL)
	return visits
}

// markTrapped refreshes the active trap and bumps the global counter on first capture.
func (g *Guard) markTrapped(ctx context.Context, clientID string, level int, now time.Time) bool {
	key := state.TrapKey(clientID)

	newly := !g.store.Exists(ctx, key)
	if newly {
		_, _ = g.store.Increment(ctx, state.TotalTrappedKey)
		metrics.RecordBotTrapped()
		g.log("Bot captured in maze", clientID, zap.Int("level", level))
	}

	_ = saveJSON(ctx, g.store, key, ActiveTrap{Level: level, LastSeen: Seconds(now)}, state.TrapTTL)
	return newly
}

func (g *Guard) log(msg, clientID string, fields ...zap.Field) {
	if g.logger == nil {
		return
	}
	g.logger.Info(msg, append([]zap.Field{zap.String("client", clientID)}, fields...)...)
}
