// Package ratelimit implements the credential pool that spreads Companies House
// lookups across several API keys. Each key is capped by the remote side at a
// fixed number of requests per rolling window; the pool tracks usage per key
// and always hands out the least-loaded one.
package ratelimit

import (
	"fmt"
	"time"
)

// Defaults matching the published Companies House contract:
// 600 requests per 5 minutes per key.
const (
	DefaultLimit     = 600
	DefaultWindow    = 5 * time.Minute
	DefaultThreshold = 0.9
)

// Config holds the per-credential rate limit parameters.
type Config struct {
	// Limit is the number of requests allowed per window per credential.
	Limit int

	// Window is the length of the rolling window.
	Window time.Duration

	// Threshold is the usage ratio above which a credential counts as exhausted.
	Threshold float64
}

// DefaultConfig returns the Companies House limits.
func DefaultConfig() Config {
	return Config{
		Limit:     DefaultLimit,
		Window:    DefaultWindow,
		Threshold: DefaultThreshold,
	}
}

// Validate checks that the limits are usable.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive (got %d)", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive (got %s)", c.Window)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("exhaustion threshold must be in (0,1] (got %g)", c.Threshold)
	}
	return nil
}

// Credential is one API key and its usage inside the current window.
// Values returned by the pool are copies; mutate through the Pool only.
type Credential struct {
	// ID is the position of the credential in the pool.
	ID int

	// Key is the opaque API key. Never log it; use Label or Fingerprint.
	Key string

	// RequestCount is the number of requests issued in the current window.
	RequestCount int

	// WindowStart is when the current window began.
	WindowStart time.Time

	// ForbiddenUntil excludes the credential from selection until it passes.
	// The zero value means the credential is not under a forbidden cooldown.
	ForbiddenUntil time.Time
}

// Label is the metric/log label for the credential.
func (c Credential) Label() string {
	return fmt.Sprintf("key-%d", c.ID)
}

// UsageRatio returns RequestCount / limit.
func (c Credential) UsageRatio(limit int) float64 {
	if limit <= 0 {
		return 1
	}
	return float64(c.RequestCount) / float64(limit)
}

// IsForbidden reports whether the credential is under a forbidden cooldown at now.
func (c Credential) IsForbidden(now time.Time) bool {
	return !c.ForbiddenUntil.IsZero() && now.Before(c.ForbiddenUntil)
}

// windowExpired reports whether the window has rolled over at now.
func (c Credential) windowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(c.WindowStart) > window
}

// TimeUntilReset returns the time until the window rolls over.
// Returns 0 if the window has already expired.
func (c Credential) TimeUntilReset(now time.Time, window time.Duration) time.Duration {
	d := c.WindowStart.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
