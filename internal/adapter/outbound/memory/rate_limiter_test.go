package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pyxhttp/pyx/internal/domain/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg ratelimit.Config) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewRateLimiter(cfg, time.Minute, time.Minute)
	l.now = clock.Now
	return l, clock
}

func TestRateLimiter_Burst(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(ratelimit.Config{Rate: 60, Burst: 3, Period: time.Minute})

	for i := 0; i < 3; i++ {
		if r := l.Allow("10.0.0.1"); !r.Allowed {
			t.Fatalf("Allow() #%d denied, want allowed within burst", i+1)
		}
	}
	r := l.Allow("10.0.0.1")
	if r.Allowed {
		t.Fatal("Allow() after burst = allowed, want denied")
	}
	if r.RetryAfter <= 0 || r.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want (0, 1s]", r.RetryAfter)
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(ratelimit.Config{Rate: 60, Burst: 1, Period: time.Minute})

	if !l.Allow("k").Allowed {
		t.Fatal("first Allow() denied")
	}
	if l.Allow("k").Allowed {
		t.Fatal("second Allow() allowed, want denied")
	}
	clock.Advance(time.Second)
	if !l.Allow("k").Allowed {
		t.Error("Allow() after one emission interval denied, want allowed")
	}
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(ratelimit.Config{Rate: 1, Burst: 1, Period: time.Minute})

	if !l.Allow("a").Allowed {
		t.Fatal("Allow(a) denied")
	}
	if !l.Allow("b").Allowed {
		t.Error("Allow(b) denied, want independent budget")
	}
	if got := l.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestRateLimiter_DefaultBurst(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(ratelimit.Config{Rate: 5, Period: time.Minute})

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("k").Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(ratelimit.Config{Rate: 60, Burst: 1, Period: time.Minute})
	l.Allow("old")
	clock.Advance(2 * time.Minute)
	l.Allow("new")

	l.cleanup()

	if got := l.Size(); got != 1 {
		t.Errorf("Size() after cleanup = %d, want 1", got)
	}
}

func TestRateLimiter_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewRateLimiter(ratelimit.Config{Rate: 10, Period: time.Second}, time.Millisecond, time.Millisecond)
	l.StartCleanup(context.Background())
	l.Allow("k")

	deadline := time.Now().Add(2 * time.Second)
	for l.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := l.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0 after sweeps", got)
	}

	l.Stop()
	l.Stop()
}

func TestRateLimiter_StopsOnContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewRateLimiter(ratelimit.Config{Rate: 10, Period: time.Second}, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	l.StartCleanup(ctx)
	cancel()
	l.Stop()
}
