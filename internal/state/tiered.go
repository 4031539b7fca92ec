package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/metrics"
)

const (
	DefaultOpTimeout           = 500 * time.Millisecond
	DefaultReconnectMaxBackoff = 2 * time.Second

	reconnectStep = 50 * time.Millisecond
)

// TieredOptions configures a Tiered store.
type TieredOptions struct {
	Logger              *logging.Logger
	OpTimeout           time.Duration
	ReconnectMaxBackoff time.Duration
}

// Tiered implements Store over an optional durable Backend and a Memory
// fallback. Every operation tries the durable tier first and silently serves
// from the fallback when that fails. Mode transitions are logged once each.
type Tiered struct {
	durable  Backend
	fallback *Memory
	logger   *logging.Logger

	opTimeout  time.Duration
	maxBackoff time.Duration

	healthy      atomic.Bool
	reconnecting atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTiered connects to durable (which may be nil) and returns a ready store.
// A durable backend that fails its first ping starts in fallback mode with a
// background reconnect loop.
func NewTiered(ctx context.Context, durable Backend, fallback *Memory, opts TieredOptions) *Tiered {
	if fallback == nil {
		fallback = NewMemory()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.ReconnectMaxBackoff <= 0 {
		opts.ReconnectMaxBackoff = DefaultReconnectMaxBackoff
	}

	t := &Tiered{
		durable:    durable,
		fallback:   fallback,
		logger:     opts.Logger,
		opTimeout:  opts.OpTimeout,
		maxBackoff: opts.ReconnectMaxBackoff,
		stopCh:     make(chan struct{}),
	}

	if durable == nil {
		t.info("No durable store configured, using in-memory storage")
		metrics.SetStoreFallback(true)
		return t
	}

	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
	err := durable.Ping(pingCtx)
	cancel()
	if err != nil {
		t.warn("Durable store unreachable at startup, using in-memory storage", zap.Error(err))
		metrics.SetStoreFallback(true)
		t.startReconnect()
		return t
	}

	t.healthy.Store(true)
	metrics.SetStoreFallback(false)
	t.info("Durable store connected")
	return t
}

// Mode reports the tier currently serving operations.
func (t *Tiered) Mode() Mode {
	if t.durable != nil && t.healthy.Load() {
		return ModeDurable
	}
	return ModeFallback
}

// Fallback exposes the in-process tier, mainly for tests and diagnostics.
func (t *Tiered) Fallback() *Memory {
	return t.fallback
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if ValidateKey(key) != nil {
		return nil, false
	}

	var (
		value []byte
		found bool
	)
	if t.durableCall(ctx, "get", key, func(c context.Context) error {
		v, ok, err := t.durable.Get(c, key)
		value, found = v, ok
		return err
	}) {
		return value, found
	}

	value, found, _ = t.fallback.Get(ctx, key)
	return value, found
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if t.durableCall(ctx, "set", key, func(c context.Context) error {
		return t.durable.Set(c, key, value, ttl)
	}) {
		return nil
	}
	return t.fallback.Set(ctx, key, value, ttl)
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if t.durableCall(ctx, "delete", key, func(c context.Context) error {
		return t.durable.Delete(c, key)
	}) {
		return nil
	}
	return t.fallback.Delete(ctx, key)
}

func (t *Tiered) Exists(ctx context.Context, key string) bool {
	if ValidateKey(key) != nil {
		return false
	}

	var exists bool
	if t.durableCall(ctx, "exists", key, func(c context.Context) error {
		ok, err := t.durable.Exists(c, key)
		exists = ok
		return err
	}) {
		return exists
	}

	exists, _ = t.fallback.Exists(ctx, key)
	return exists
}

func (t *Tiered) Increment(ctx context.Context, key string) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}

	var n int64
	if t.durableCall(ctx, "increment", key, func(c context.Context) error {
		v, err := t.durable.Increment(c, key)
		n = v
		return err
	}) {
		return n, nil
	}
	return t.fallback.Increment(ctx, key)
}

func (t *Tiered) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	var keys []string
	if !t.durableCall(ctx, "keys", pattern, func(c context.Context) error {
		k, err := t.durable.Keys(c, pattern)
		keys = k
		return err
	}) {
		keys, _ = t.fallback.Keys(ctx, pattern)
	}

	sort.Strings(keys)
	return keys, nil
}

// GetAll returns every live value under pattern. Keys that vanish between the
// listing and the read are skipped.
func (t *Tiered) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	keys, err := t.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := t.Get(ctx, key); ok {
			out[key] = value
		}
	}
	return out, nil
}

// Prune removes expired fallback entries and, when the durable backend does
// not expire keys natively, its stale rows too.
func (t *Tiered) Prune(ctx context.Context, now time.Time) (int64, error) {
	removed, _ := t.fallback.Prune(ctx, now)

	pruner, ok := t.durable.(Pruner)
	if !ok {
		return removed, nil
	}

	var durableRemoved int64
	if !t.durableCall(ctx, "prune", "*", func(c context.Context) error {
		n, err := pruner.Prune(c, now)
		durableRemoved = n
		return err
	}) {
		return removed, nil
	}
	return removed + durableRemoved, nil
}

// Ping checks the durable tier, returning an error while in fallback mode.
func (t *Tiered) Ping(ctx context.Context) error {
	if t.durable == nil {
		return fmt.Errorf("no durable store configured")
	}
	if !t.healthy.Load() {
		return fmt.Errorf("durable store unavailable")
	}
	pingCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()
	return t.durable.Ping(pingCtx)
}

// Close stops the reconnect loop and releases the durable backend.
func (t *Tiered) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	if t.durable != nil {
		return t.durable.Close()
	}
	return nil
}

// durableCall runs fn against the durable tier with a bounded deadline.
// It returns false when the caller must use the fallback instead.
func (t *Tiered) durableCall(ctx context.Context, op, key string, fn func(context.Context) error) bool {
	if t.durable == nil || !t.healthy.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	callCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return true
	}
	// A cancelled caller says nothing about backend health.
	if ctx.Err() != nil {
		return false
	}
	t.markDown(op, key, err)
	return false
}

func (t *Tiered) markDown(op, key string, err error) {
	if !t.healthy.CompareAndSwap(true, false) {
		return
	}
	t.warn("Durable store unavailable, falling back to in-memory storage",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err))
	metrics.SetStoreFallback(true)
	t.startReconnect()
}

func (t *Tiered) startReconnect() {
	if !t.reconnecting.CompareAndSwap(false, true) {
		return
	}
	t.wg.Add(1)
	go t.reconnectLoop()
}

func (t *Tiered) reconnectLoop() {
	defer t.wg.Done()

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(reconnectDelay(attempt, t.maxBackoff))
		select {
		case <-t.stopCh:
			timer.Stop()
			t.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
		err := t.durable.Ping(ctx)
		cancel()
		if err != nil {
			t.debug("Durable store reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		// Clear the flag first so a failure right after recovery can start a new loop.
		t.reconnecting.Store(false)
		t.healthy.Store(true)
		metrics.SetStoreFallback(false)
		t.info("Durable store reconnected", zap.Int("attempts", attempt))
		return
	}
}

// reconnectDelay grows linearly by 50ms per attempt, capped at limit.
func reconnectDelay(attempt int, limit time.Duration) time.Duration {
	delay := time.Duration(attempt) * reconnectStep
	if delay > limit {
		return limit
	}
	return delay
}

func (t *Tiered) info(msg string, fields ...zap.Field) {
	if t.logger != nil {
		t.logger.Info(msg, fields...)
	}
}

func (t *Tiered) warn(msg string, fields ...zap.Field) {
	if t.logger != nil {
		t.logger.Warn(msg, fields...)
	}
}

func (t *Tiered) debug(msg string, fields ...zap.Field) {
	if t.logger != nil {
		t.logger.Debug(msg, fields...)
	}
}
