package defense

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krewdev/bluetrap/internal/metrics"
	"github.com/krewdev/bluetrap/internal/state"
)

// Default janitor schedule and retention.
const (
	DefaultJanitorInterval = 60 * time.Second
	DefaultVisitTTL        = time.Hour
	DefaultTrapIdle        = 5 * time.Minute
)

// JanitorConfig controls sweep cadence and retention.
type JanitorConfig struct {
	Interval   time.Duration
	VisitTTL   time.Duration
	TrapIdle   time.Duration
	RateIdle   time.Duration
	RateWindow time.Duration
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultJanitorInterval
	}
	if c.VisitTTL <= 0 {
		c.VisitTTL = DefaultVisitTTL
	}
	if c.TrapIdle <= 0 {
		c.TrapIdle = DefaultTrapIdle
	}
	if c.RateIdle <= 0 {
		c.RateIdle = DefaultRateIdle
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	return c
}

// SweepResult summarises one sweep.
type SweepResult struct {
	VisitsDeleted      int
	RateWindowsDeleted int
	RateWindowsPruned  int
	TrapsDeleted       int
	ExpiredPurged      int64
	Failures           int
}

// Janitor periodically removes stale per-client state. Each key is handled
// independently; one failure never aborts the sweep.
type Janitor struct {
	store  state.Store
	config JanitorConfig
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewJanitor creates a janitor over store.
func NewJanitor(store state.Store, cfg JanitorConfig, logger *logging.Logger) *Janitor {
	return &Janitor{
		store:  store,
		config: cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the background sweep loop. Calling it while running is a
// no-op; a stopped janitor can be started again.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	stop := make(chan struct{})
	j.stopCh = stop

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx, stop)
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	close(j.stopCh)
	j.mu.Unlock()

	j.wg.Wait()
}

// Run sweeps on every tick until ctx is done. Use Start and Stop for a
// loop that can be halted without cancelling ctx.
func (j *Janitor) Run(ctx context.Context) {
	j.run(ctx, nil)
}

func (j *Janitor) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx, j.now())
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs every cleanup phase concurrently and returns the combined result.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) SweepResult {
	start := time.Now()
	var (
		g                        errgroup.Group
		visits, rates, traps, ex SweepResult
	)

	g.Go(func() error { visits = j.sweepVisits(ctx, now); return nil })
	g.Go(func() error { rates = j.sweepRateWindows(ctx, now); return nil })
	g.Go(func() error { traps = j.sweepTraps(ctx, now); return nil })
	g.Go(func() error { ex = j.purgeExpired(ctx, now); return nil })
	_ = g.Wait()

	result := SweepResult{
		VisitsDeleted:      visits.VisitsDeleted,
		RateWindowsDeleted: rates.RateWindowsDeleted,
		RateWindowsPruned:  rates.RateWindowsPruned,
		TrapsDeleted:       traps.TrapsDeleted,
		ExpiredPurged:      ex.ExpiredPurged,
		Failures:           visits.Failures + rates.Failures + traps.Failures + ex.Failures,
	}

	metrics.RecordJanitorSweep(time.Since(start), map[string]int{
		"visits":       result.VisitsDeleted,
		"rate_windows": result.RateWindowsDeleted,
		"traps":        result.TrapsDeleted,
	})

	if j.logger != nil {
		j.logger.Debug("Janitor sweep complete",
			zap.Int("visits_deleted", result.VisitsDeleted),
			zap.Int("rate_windows_deleted", result.RateWindowsDeleted),
			zap.Int("rate_windows_pruned", result.RateWindowsPruned),
			zap.Int("traps_deleted", result.TrapsDeleted),
			zap.Int64("expired_purged", result.ExpiredPurged),
			zap.Int("failures", result.Failures))
	}

	return result
}

func (j *Janitor) sweepVisits(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	cutoff := j.config.VisitTTL.Seconds()
	nowSec := Seconds(now)

	j.forEach(ctx, state.VisitsPrefix, &res, func(key string, raw []byte) {
		var v VisitRecord
		if json.Unmarshal(raw, &v) == nil && nowSec-v.LastVisit <= cutoff {
			return
		}
		if j.delete(ctx, key, &res) {
			res.VisitsDeleted++
		}
	})
	return res
}

func (j *Janitor) sweepRateWindows(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	nowSec := Seconds(now)

	j.forEach(ctx, state.RatePrefix, &res, func(key string, raw []byte) {
		var w RateWindow
		if err := json.Unmarshal(raw, &w); err != nil {
			if j.delete(ctx, key, &res) {
				res.RateWindowsDeleted++
			}
			return
		}

		before := len(w.Requests)
		if w.Prune(nowSec, j.config.RateWindow, j.config.RateIdle) {
			if j.delete(ctx, key, &res) {
				res.RateWindowsDeleted++
			}
			return
		}
		if len(w.Requests) == before {
			return
		}

		// Only a window that still holds requests counts as recently active.
		if len(w.Requests) > 0 {
			w.LastCleanup = nowSec
		}
		if err := saveJSON(ctx, j.store, key, w, state.RateTTL); err != nil {
			j.failure(key, err, &res)
			return
		}
		res.RateWindowsPruned++
	})
	return res
}

func (j *Janitor) sweepTraps(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	idle := j.config.TrapIdle.Seconds()
	nowSec := Seconds(now)

	j.forEach(ctx, state.TrapPrefix, &res, func(key string, raw []byte) {
		var trap ActiveTrap
		if json.Unmarshal(raw, &trap) == nil && nowSec-trap.LastSeen <= idle {
			return
		}
		if j.delete(ctx, key, &res) {
			res.TrapsDeleted++
		}
	})
	return res
}

func (j *Janitor) purgeExpired(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	pruner, ok := j.store.(state.Pruner)
	if !ok {
		return res
	}
	n, err := pruner.Prune(ctx, now)
	if err != nil {
		j.failure("*", err, &res)
		return res
	}
	res.ExpiredPurged = n
	return res
}

func (j *Janitor) forEach(ctx context.Context, prefix string, res *SweepResult, fn func(key string, raw []byte)) {
	records, err := j.store.GetAll(ctx, state.Pattern(prefix))
	if err != nil {
		j.failure(prefix, err, res)
		return
	}
	for key, raw := range records {
		if ctx.Err() != nil {
			return
		}
		fn(key, raw)
	}
}

func (j *Janitor) delete(ctx context.Context, key string, res *SweepResult) bool {
	if err := j.store.Delete(ctx, key); err != nil {
		j.failure(key, err, res)
		return false
	}
	return true
}

func (j *Janitor) failure(key string, err error, res *SweepResult) {
	res.Failures++
	if j.logger != nil {
		j.logger.Warn("Janitor could not clean key", zap.String("key", key), zap.Error(err))
	}
}
