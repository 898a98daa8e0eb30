package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff constants for the Glagol reconnect policy.
const (
	// InitialBackoff is the delay after the first failure.
	InitialBackoff = 15 * time.Second

	// MaxBackoffExponent caps the doubling: 15s * 2^5 = 480s.
	MaxBackoffExponent = 5

	// MaxBackoff is the largest delay the default policy produces.
	MaxBackoff = InitialBackoff << MaxBackoffExponent
)

// Backoff calculates reconnect delays from a failure counter.
type Backoff struct {
	mu sync.Mutex

	// Configuration
	initial time.Duration
	maxExp  int
	jitter  float64

	// Consecutive failures since the last Reset
	failures int

	// Random source for jitter
	rng *rand.Rand
}

// NewBackoff creates a backoff calculator with the default policy (no jitter).
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	// Initial is the delay after the first failure (default 15s).
	Initial time.Duration

	// MaxExponent caps the number of doublings (default 5).
	MaxExponent int

	// Jitter adds up to Jitter*delay of random extra wait. Zero disables it.
	Jitter float64
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.MaxExponent <= 0 {
		cfg.MaxExponent = MaxBackoffExponent
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		initial: cfg.Initial,
		maxExp:  cfg.MaxExponent,
		jitter:  cfg.Jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	return b.addJitter(delayFor(b.initial, b.maxExp, b.failures))
}

// Reset clears the failure counter.
// Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failures returns the number of failures since the last reset.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// DelayFor returns the default-policy delay after the given number of
// consecutive failures. failures <= 0 yields zero.
func DelayFor(failures int) time.Duration {
	return delayFor(InitialBackoff, MaxBackoffExponent, failures)
}

func delayFor(initial time.Duration, maxExp, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	return initial << min(failures-1, maxExp)
}

// BackoffSequence returns the default delays up to the cap.
func BackoffSequence() []time.Duration {
	return []time.Duration{
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second, // max
	}
}
