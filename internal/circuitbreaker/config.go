// Package circuitbreaker isolates failing backends.
//
// Each service gets its own breaker. After Threshold consecutive failures
// the breaker opens and every call fails fast with a *OpenError until
// Cooldown has passed since the last failure. Recovery is time based: the
// next call after the cooldown closes the breaker and goes to the backend.
// With HalfOpen set, recovery instead admits a single probe whose outcome
// decides between closing and re-opening.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int

	// Cooldown is how long the circuit stays open after the last failure.
	Cooldown time.Duration

	// HalfOpen enables single-probe recovery after the cooldown.
	HalfOpen bool

	// IsSuccessful decides whether a call's error counts as a success.
	// If nil, all non-nil errors are failures.
	IsSuccessful func(err error) bool

	// IsIgnored marks outcomes that count as neither success nor failure,
	// such as calls the caller abandoned. It is checked before IsSuccessful.
	IsIgnored func(err error) bool

	// OnStateChange is called synchronously after every state change.
	OnStateChange func(name string, from, to State)

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Threshold: 5,
		Cooldown:  60 * time.Second,
	}
}

// normalize fills invalid values with defaults.
func (c *Config) normalize() {
	if c.Threshold < 1 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
