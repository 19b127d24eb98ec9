// Package ratelimit defines admission limits for new client connections,
// keyed by client address.
package ratelimit

import "time"

// Config is a rate of Rate admissions per Period, with up to Burst
// admitted back to back.
type Config struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Period > 0
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed bool
	// RetryAfter is when the key is admitted again. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a new connection from key is admitted.
//
// Implementations spread admissions evenly over the period (GCRA) rather
// than resetting a counter at window boundaries.
type Limiter interface {
	Allow(key string) Result
}
