package replay

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the retry delay configuration of failed replays.
type BackoffConfig struct {
	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the relative randomization of each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Delay returns the wait after the given number of failed attempts
// (attempts >= 1). rnd returns values in [0, 1); nil uses math/rand.
// The result never exceeds MaxBackoff.
func (c BackoffConfig) Delay(attempts int, rnd func() float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if rnd == nil {
		rnd = rand.Float64
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempts-1))
	if backoff > float64(c.MaxBackoff) || math.IsInf(backoff, 0) || math.IsNaN(backoff) {
		backoff = float64(c.MaxBackoff)
	}

	// Add jitter (±Jitter randomness)
	delay := time.Duration(backoff * (1 - c.Jitter + rnd()*2*c.Jitter))
	if delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
