package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pyxhttp/pyx/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter with GCRA over an in-memory map
// of theoretical arrival times. A background sweep drops idle keys.
type RateLimiter struct {
	cfg      ratelimit.Config
	emission time.Duration
	burst    time.Duration

	mu    sync.Mutex
	cells map[string]time.Time
	now   func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	sweep    time.Duration
	maxIdle  time.Duration
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter admitting cfg.Rate keys per cfg.Period.
// Keys idle for longer than maxIdle are dropped every sweep.
func NewRateLimiter(cfg ratelimit.Config, sweep, maxIdle time.Duration) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	emission := cfg.Period / time.Duration(cfg.Rate)
	return &RateLimiter{
		cfg:      cfg,
		emission: emission,
		burst:    time.Duration(cfg.Burst) * emission,
		cells:    make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
		sweep:    sweep,
		maxIdle:  maxIdle,
	}
}

// Allow admits key unless it is ahead of its schedule by more than the burst.
func (r *RateLimiter) Allow(key string) ratelimit.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	if allowAt := tat.Add(r.emission - r.burst); now.Before(allowAt) {
		return ratelimit.Result{RetryAfter: allowAt.Sub(now)}
	}

	r.cells[key] = tat.Add(r.emission)
	return ratelimit.Result{Allowed: true}
}

// StartCleanup runs the idle-key sweep until ctx ends or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxIdle)
	cleaned := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.cells))
	}
}

// Stop ends the sweep and waits for it. Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}
