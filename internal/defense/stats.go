package defense

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/krewdev/bluetrap/internal/state"
)

// ActiveBot is a client seen in the maze within the active window.
type ActiveBot struct {
	IP          string `json:"ip"`
	Level       int    `json:"level"`
	Visits      int    `json:"visits"`
	MaxLevel    int    `json:"maxLevel"`
	RateLimited bool   `json:"rateLimited"`
}

// RateLimitedBot is a client whose visit count exceeds the depth cap.
type RateLimitedBot struct {
	IP         string  `json:"ip"`
	Visits     int     `json:"visits"`
	MaxLevel   int     `json:"maxLevel"`
	FirstVisit float64 `json:"firstVisit"`
	LastVisit  float64 `json:"lastVisit"`
}

// LimitsInfo echoes the effective configuration.
type LimitsInfo struct {
	MaxMazeLevels             int     `json:"maxMazeLevels"`
	MaxRequestsPerSecond      int     `json:"maxRequestsPerSecond"`
	RateLimitWindowSeconds    float64 `json:"rateLimitWindowSeconds"`
	SpeedTrapThresholdSeconds float64 `json:"speedTrapThresholdSeconds"`
	ActiveWindowSeconds       float64 `json:"activeWindowSeconds"`
}

// Stats is the read-only snapshot served at /stats/trapped.
type Stats struct {
	TrappedCount    int64            `json:"trappedCount"`
	ActiveBots      []ActiveBot      `json:"activeBots"`
	RateLimited     int              `json:"rateLimited"`
	RateLimitedBots []RateLimitedBot `json:"rateLimitedBots"`
	Limits          LimitsInfo       `json:"limits"`
	Storage         state.Mode       `json:"storage"`
}

// Snapshot aggregates trap state without mutating it. Undecodable records
// are skipped. Lists are sorted by IP.
func (g *Guard) Snapshot(ctx context.Context, now time.Time, speedTrapThreshold time.Duration) Stats {
	nowSec := Seconds(now)

	visits := g.visitRecords(ctx)

	stats := Stats{
		TrappedCount:    TotalTrapped(ctx, g.store),
		ActiveBots:      make([]ActiveBot, 0),
		RateLimitedBots: make([]RateLimitedBot, 0),
		Limits: LimitsInfo{
			MaxMazeLevels:             g.limits.MaxLevels,
			MaxRequestsPerSecond:      g.limits.MaxRequestsPerSecond,
			RateLimitWindowSeconds:    g.limits.RateWindow.Seconds(),
			SpeedTrapThresholdSeconds: speedTrapThreshold.Seconds(),
			ActiveWindowSeconds:       g.limits.ActiveWindow.Seconds(),
		},
		Storage: g.store.Mode(),
	}

	traps, err := g.store.GetAll(ctx, state.Pattern(state.TrapPrefix))
	if err == nil {
		for key, raw := range traps {
			var trap ActiveTrap
			if json.Unmarshal(raw, &trap) != nil {
				continue
			}
			if nowSec-trap.LastSeen >= g.limits.ActiveWindow.Seconds() {
				continue
			}

			ip := state.ClientID(key, state.TrapPrefix)
			bot := ActiveBot{IP: ip, Level: trap.Level, MaxLevel: trap.Level}
			if v, ok := visits[ip]; ok {
				bot.Visits = v.Count
				bot.MaxLevel = v.MaxLevel
				bot.RateLimited = v.Count > g.limits.MaxLevels
			}
			stats.ActiveBots = append(stats.ActiveBots, bot)
		}
	}

	for ip, v := range visits {
		if v.Count > g.limits.MaxLevels {
			stats.RateLimitedBots = append(stats.RateLimitedBots, RateLimitedBot{
				IP:         ip,
				Visits:     v.Count,
				MaxLevel:   v.MaxLevel,
				FirstVisit: v.FirstVisit,
				LastVisit:  v.LastVisit,
			})
		}
	}
	stats.RateLimited = len(stats.RateLimitedBots)

	sort.Slice(stats.ActiveBots, func(i, j int) bool { return stats.ActiveBots[i].IP < stats.ActiveBots[j].IP })
	sort.Slice(stats.RateLimitedBots, func(i, j int) bool { return stats.RateLimitedBots[i].IP < stats.RateLimitedBots[j].IP })

	return stats
}

func (g *Guard) visitRecords(ctx context.Context) map[string]VisitRecord {
	out := make(map[string]VisitRecord)
	raw, err := g.store.GetAll(ctx, state.Pattern(state.VisitsPrefix))
	if err != nil {
		return out
	}
	for key, value := range raw {
		var v VisitRecord
		if json.Unmarshal(value, &v) != nil {
			continue
		}
		out[state.ClientID(key, state.VisitsPrefix)] = v
	}
	return out
}
