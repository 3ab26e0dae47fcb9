package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/internal/redact"
)

// Prometheus metrics for credential usage.
var (
	credentialUsageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enricher_credential_usage_ratio",
		Help: "Requests issued in the current window divided by the per-window limit",
	}, []string{"credential"})

	credentialForbiddenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_credential_forbidden_total",
		Help: "Total number of times a credential was put under a forbidden cooldown",
	}, []string{"credential"})

	credentialPoolResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_credential_pool_resets_total",
		Help: "Total number of forced pool resets after a cooldown",
	})
)

// ErrNoCredentials is returned when the pool is built without any keys.
var ErrNoCredentials = errors.New("at least one API credential is required")

// Pool owns the API credentials and their per-window usage.
// It is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	config Config
	logger zerolog.Logger

	now func() time.Time
}

// NewPool creates a pool from the configured keys.
func NewPool(keys []string, cfg Config, logger zerolog.Logger) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(keys))
	creds := make([]*Credential, 0, len(keys))
	for i, raw := range keys {
		key := strings.TrimSpace(raw)
		if key == "" {
			return nil, fmt.Errorf("credential %d is blank", i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("credential %d (%s) is duplicated", i, redact.Fingerprint(key))
		}
		seen[key] = struct{}{}
		creds = append(creds, &Credential{ID: i, Key: key, WindowStart: now})
	}

	p := &Pool{
		creds:  creds,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, c := range creds {
		credentialUsageRatio.WithLabelValues(c.Label()).Set(0)
	}
	p.logger.Info().
		Int("credentials", len(creds)).
		Int("limit", cfg.Limit).
		Dur("window", cfg.Window).
		Msg("Credential pool ready")
	return p, nil
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	return len(p.creds)
}

// Config returns the pool's rate limit parameters.
func (p *Pool) Config() Config {
	return p.config
}

// Select returns the least-loaded credential that is not under a forbidden
// cooldown. Ties go to the earliest credential in the pool. Select never
// fails: when every credential is forbidden it returns the one whose cooldown
// ends first, and an exhausted pool still yields its least-used credential.
func (p *Pool) Select() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best, soonest *Credential
	for _, c := range p.creds {
		p.rollLocked(c, now)
		if !c.ForbiddenUntil.IsZero() && !now.Before(c.ForbiddenUntil) {
			c.ForbiddenUntil = time.Time{}
		}
		if c.IsForbidden(now) {
			if soonest == nil || c.ForbiddenUntil.Before(soonest.ForbiddenUntil) {
				soonest = c
			}
			continue
		}
		if best == nil || c.UsageRatio(p.config.Limit) < best.UsageRatio(p.config.Limit) {
			best = c
		}
	}

	if best == nil {
		p.logger.Warn().
			Str("credential", soonest.Label()).
			Time("forbidden_until", soonest.ForbiddenUntil).
			Msg("All credentials forbidden, returning the one released first")
		return *soonest
	}
	return *best
}

// RecordUsage counts one request against the credential. It must be called
// exactly once per remote call attempt, whatever the outcome.
func (p *Pool) RecordUsage(c Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred := p.lookupLocked(c)
	if cred == nil {
		return
	}
	p.rollLocked(cred, p.now())
	cred.RequestCount++

	ratio := cred.UsageRatio(p.config.Limit)
	credentialUsageRatio.WithLabelValues(cred.Label()).Set(ratio)
	if ratio > p.config.Threshold {
		p.logger.Debug().
			Str("credential", cred.Label()).
			Int("requests", cred.RequestCount).
			Float64("usage_ratio", ratio).
			Msg("Credential over threshold")
	}
}

// MarkForbidden excludes the credential from selection for d.
func (p *Pool) MarkForbidden(c Credential, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred := p.lookupLocked(c)
	if cred == nil {
		return
	}
	until := p.now().Add(d)
	if until.After(cred.ForbiddenUntil) {
		cred.ForbiddenUntil = until
	}
	credentialForbiddenTotal.WithLabelValues(cred.Label()).Inc()
	p.logger.Error().
		Str("credential", cred.Label()).
		Str("fingerprint", redact.Fingerprint(cred.Key)).
		Time("forbidden_until", cred.ForbiddenUntil).
		Msg("Credential forbidden by remote API")
}

// AllExhausted reports whether every credential's usage ratio is above the
// threshold. Windows that have expired but not yet been rolled are not
// considered reset.
func (p *Pool) AllExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.UsageRatio(p.config.Limit) <= p.config.Threshold {
			return false
		}
	}
	return true
}

// AnyForbidden reports whether some credential is under a forbidden cooldown.
func (p *Pool) AnyForbidden() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, c := range p.creds {
		if c.IsForbidden(now) {
			return true
		}
	}
	return false
}

// NextAvailableIn returns the shortest time until any credential's window
// rolls over.
func (p *Pool) NextAvailableIn() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	next := p.config.Window
	for _, c := range p.creds {
		if d := c.TimeUntilReset(now, p.config.Window); d < next {
			next = d
		}
	}
	return next
}

// ResetAll clears every counter and forbidden mark. Called once a cooldown
// has completed, when the remote side has reset its windows as well.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, c := range p.creds {
		c.RequestCount = 0
		c.WindowStart = now
		c.ForbiddenUntil = time.Time{}
		credentialUsageRatio.WithLabelValues(c.Label()).Set(0)
	}
	credentialPoolResetsTotal.Inc()
	p.logger.Info().Int("credentials", len(p.creds)).Msg("Credential pool reset")
}

// Snapshot returns copies of every credential.
func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
	}
	return out
}

func (p *Pool) lookupLocked(c Credential) *Credential {
	if c.ID < 0 || c.ID >= len(p.creds) || p.creds[c.ID].Key != c.Key {
		p.logger.Warn().Int("credential_id", c.ID).Msg("Unknown credential")
		return nil
	}
	return p.creds[c.ID]
}

func (p *Pool) rollLocked(c *Credential, now time.Time) {
	if !c.windowExpired(now, p.config.Window) {
		return
	}
	c.RequestCount = 0
	c.WindowStart = now
	credentialUsageRatio.WithLabelValues(c.Label()).Set(0)
}
