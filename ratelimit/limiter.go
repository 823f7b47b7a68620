// Package ratelimit bounds request volume per logical key (client IP,
// group ID) with fixed counting windows. The counter store is injectable
// so tests can substitute a deterministic clock and isolated storage.
package ratelimit

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

const (
	// sweepProbability is the per-call chance of sweeping expired keys.
	sweepProbability = 0.01

	// sweepSizeThreshold forces a sweep once the store grows past it.
	sweepSizeThreshold = 10000

	// hardClearThreshold clears the whole store if a sweep could not
	// shrink it below this bound. Bounded memory wins over precision.
	hardClearThreshold = 50000
)

// Config sets the budget for one limiter instance.
type Config struct {
	// Limit is the maximum number of requests per window per key.
	Limit int

	// Window is the counting window duration.
	Window time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks {count, windowResetAt} per key. All mutation goes through
// Allow; the map is never exposed.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*window
	cfg     Config
	clock   interfaces.Clock
	log     *slog.Logger
}

// New creates a limiter with the given budget. A nil clock defaults to
// wall time.
func New(cfg Config, clock interfaces.Clock, log *slog.Logger) *Limiter {
	if clock == nil {
		clock = interfaces.ClockFunc(time.Now)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Limiter{
		entries: make(map[string]*window),
		cfg:     cfg,
		clock:   clock,
		log:     log,
	}
}

// Allow records one request for key and reports whether it is within
// budget. Returns interfaces.ErrRateLimited when the budget is exhausted.
func (l *Limiter) Allow(key string) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		return nil
	}

	if entry.count >= l.cfg.Limit {
		return interfaces.ErrRateLimited
	}

	entry.count++
	return nil
}

// Size returns the number of tracked keys. Intended for tests and
// diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// maybeSweep prunes expired windows on a small random chance per call, or
// whenever the store exceeds the size threshold. Caller holds the lock.
func (l *Limiter) maybeSweep(now time.Time) {
	if len(l.entries) < sweepSizeThreshold && rand.Float64() > sweepProbability {
		return
	}

	for key, entry := range l.entries {
		if now.After(entry.resetAt) {
			delete(l.entries, key)
		}
	}

	if len(l.entries) > hardClearThreshold {
		l.log.Warn("Rate limiter store still oversized after sweep, clearing",
			slog.Int("entries", len(l.entries)))
		l.entries = make(map[string]*window)
	}
}
