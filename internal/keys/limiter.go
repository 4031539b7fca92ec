package keys

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig holds per-client issuance limits.
type LimiterConfig struct {
	// RatePerMinute is the sustained number of keys a client may request.
	RatePerMinute int
	// Burst is the number of keys a client may request back to back.
	Burst int
	// CleanupInterval is how often idle client entries are dropped.
	CleanupInterval time.Duration
	// EntryTTL is how long an entry is kept after its last use.
	EntryTTL time.Duration
}

// DefaultLimiterConfig returns the stock issuance limits.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RatePerMinute:   10,
		Burst:           3,
		CleanupInterval: 5 * time.Minute,
		EntryTTL:        10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is a per-client token bucket. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	config   LimiterConfig
	now      func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewLimiter starts a limiter and its cleanup loop. Call Close to stop it.
func NewLimiter(config LimiterConfig) *Limiter {
	d := DefaultLimiterConfig()
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = d.RatePerMinute
	}
	if config.Burst <= 0 {
		config.Burst = d.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = d.CleanupInterval
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = d.EntryTTL
	}

	l := &Limiter{
		limiters:    make(map[string]*limiterEntry),
		config:      config,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether clientID may be issued a key now.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[clientID]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.config.RatePerMinute)), l.config.Burst),
		}
		l.limiters[clientID] = entry
	}
	entry.lastAccess = now

	return entry.limiter.AllowN(now, 1)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopCleanup)
		<-l.cleanupDone
	})
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) cleanupLoop() {
	defer close(l.cleanupDone)

	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.EntryTTL)
	for id, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}
