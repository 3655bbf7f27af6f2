package cmd

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes exponentially growing reconnect delays with jitter.
// The stream watcher resets it once a connection proves healthy so a
// later blip retries quickly instead of inheriting a long delay.
type Backoff struct {
	Initial    time.Duration // first delay (default: 1s)
	Max        time.Duration // delay ceiling (default: 30s)
	Multiplier float64       // growth per attempt (default: 2.0)
	Jitter     float64       // random spread 0-1 (default: 0.1 = 10%)

	attempt int
	mu      sync.Mutex
}

// NewBackoff creates a Backoff with sensible defaults.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NewBackoffWithConfig creates a Backoff with custom parameters.
func NewBackoffWithConfig(initial, max time.Duration, multiplier, jitter float64) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
	}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Spread delays so a fleet of clients does not reconnect in lockstep.
	if b.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * b.Jitter
	}
	if delay < 0 {
		delay = float64(b.Initial)
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset returns the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
