package enrichment

import (
	"fmt"
	"time"
)

// Config holds the pacing, concurrency and retry parameters of a run.
type Config struct {
	// PageSize is the number of pending records fetched per page.
	PageSize int

	// BatchSize is the number of records handed to one worker pool.
	BatchSize int

	// Concurrency bounds the workers per batch. Each record issues two
	// remote calls, so this is usually at most the credential count.
	Concurrency int

	// InterCallDelay follows every remote call that was not served from cache.
	InterCallDelay time.Duration

	// BatchPause separates batches within a page.
	BatchPause time.Duration

	// PagePause separates pages. It should be longer than BatchPause.
	PagePause time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// ExhaustionMargin is added to the pool's NextAvailableIn before resuming
	// after every credential went over its threshold.
	ExhaustionMargin time.Duration

	// ForbiddenCooldownMin and ForbiddenCooldownMax bound the randomised
	// pool-wide pause after a 403.
	ForbiddenCooldownMin time.Duration
	ForbiddenCooldownMax time.Duration

	// MaxAttempts caps the remote attempts per record, first pass included.
	MaxAttempts int

	// Retry queue pacing: item i waits min(RetryBaseDelay+i*RetryDelayStep,
	// RetryMaxDelay), with an extra RetryPause every RetryPauseEvery items.
	RetryBaseDelay  time.Duration
	RetryDelayStep  time.Duration
	RetryMaxDelay   time.Duration
	RetryPauseEvery int
	RetryPause      time.Duration
}

// DefaultConfig returns production pacing for four to five credentials.
func DefaultConfig() Config {
	return Config{
		PageSize:             1000,
		BatchSize:            50,
		Concurrency:          3,
		InterCallDelay:       500 * time.Millisecond,
		BatchPause:           2 * time.Second,
		PagePause:            10 * time.Second,
		ExhaustionMargin:     5 * time.Second,
		ForbiddenCooldownMin: 10 * time.Minute,
		ForbiddenCooldownMax: 15 * time.Minute,
		MaxAttempts:          5,
		RetryBaseDelay:       time.Second,
		RetryDelayStep:       500 * time.Millisecond,
		RetryMaxDelay:        10 * time.Second,
		RetryPauseEvery:      5,
		RetryPause:           5 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive (got %d)", c.PageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive (got %d)", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive (got %d)", c.Concurrency)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive (got %d)", c.MaxAttempts)
	}
	if c.RetryPauseEvery < 0 {
		return fmt.Errorf("retry pause interval must not be negative (got %d)", c.RetryPauseEvery)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"inter-call delay", c.InterCallDelay},
		{"batch pause", c.BatchPause},
		{"page pause", c.PagePause},
		{"exhaustion margin", c.ExhaustionMargin},
		{"forbidden cooldown min", c.ForbiddenCooldownMin},
		{"forbidden cooldown max", c.ForbiddenCooldownMax},
		{"retry base delay", c.RetryBaseDelay},
		{"retry delay step", c.RetryDelayStep},
		{"retry max delay", c.RetryMaxDelay},
		{"retry pause", c.RetryPause},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative (got %s)", d.name, d.d)
		}
	}

	if c.ForbiddenCooldownMax < c.ForbiddenCooldownMin {
		return fmt.Errorf("forbidden cooldown max (%s) is below min (%s)", c.ForbiddenCooldownMax, c.ForbiddenCooldownMin)
	}
	return nil
}
