// Package client provides the Companies House lookup client: company name
// search and profile fetch, one pooled API credential per call, with a
// uniform error taxonomy and an optional Redis lookup cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/internal/redact"
	"github.com/epireve/uk-gateway/pkg/cache"
	"github.com/epireve/uk-gateway/pkg/logging"
	"github.com/epireve/uk-gateway/pkg/ratelimit"
)

// Prometheus metrics for Companies House client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_api_requests_total",
		Help: "Total Companies House requests by operation and status",
	}, []string{"op", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enricher_api_request_duration_seconds",
		Help:    "Companies House request duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"op"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_api_errors_total",
		Help: "Total Companies House lookup errors by kind",
	}, []string{"kind"})
)

const (
	// DefaultBaseURL is the public Companies House data API.
	DefaultBaseURL = "https://api.company-information.service.gov.uk"

	// DefaultForbiddenCooldown applies to a credential after a 403 when the
	// response carries no Retry-After.
	DefaultForbiddenCooldown = 10 * time.Minute

	opSearch  = "search"
	opProfile = "profile"

	maxBodyBytes = 4 << 20
)

// Credentials hands out API credentials and tracks their usage.
// *ratelimit.Pool satisfies it.
type Credentials interface {
	Select() ratelimit.Credential
	RecordUsage(c ratelimit.Credential)
	MarkForbidden(c ratelimit.Credential, d time.Duration)
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without a trailing slash.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// ForbiddenCooldown is how long a credential is benched after a 403.
	ForbiddenCooldown time.Duration

	// Cache is optional. When set, successful lookups are served from it.
	Cache *cache.Manager
}

// DefaultConfig returns a configuration for the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		UserAgent:         "uk-gateway-enricher/1.0",
		Timeout:           30 * time.Second,
		ForbiddenCooldown: DefaultForbiddenCooldown,
	}
}

// Client is the Companies House lookup client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	cache      *cache.Manager
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// New creates a new Companies House client drawing credentials from creds.
func New(creds Credentials, cfg Config) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential pool is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.ForbiddenCooldown <= 0 {
		cfg.ForbiddenCooldown = DefaultForbiddenCooldown
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		creds:      creds,
		cache:      cfg.Cache,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// Search returns the best match for a company name.
// An empty result set is reported as KindNotFound.
func (c *Client) Search(ctx context.Context, name string) (*Candidate, error) {
	query := strings.TrimSpace(name)
	if query == "" {
		return nil, &LookupError{Op: opSearch, Kind: KindNotFound, Message: "empty company name"}
	}

	key := cache.CacheKey{Op: cache.OpSearch, Subject: query}
	body, cached := c.fromCache(ctx, key)
	if !cached {
		params := url.Values{}
		params.Set("q", query)
		params.Set("items_per_page", "1")

		var err error
		body, err = c.get(ctx, opSearch, "/search/companies", params)
		if err != nil {
			return nil, err
		}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.fail(&LookupError{Op: opSearch, Kind: KindTransient, Message: "decode search response", Err: err})
	}
	if len(resp.Items) == 0 || resp.Items[0].CompanyNumber == "" {
		c.logger.Warn().Str("op", opSearch).Str("query", redact.Truncate(query, 80)).Msg("No company matched")
		return nil, c.fail(&LookupError{Op: opSearch, Kind: KindNotFound, Message: "no matching company"})
	}

	if !cached {
		c.toCache(ctx, key, body)
	}

	best := resp.Items[0]
	best.Cached = cached
	return &best, nil
}

// Profile fetches the company profile for a registry number.
func (c *Client) Profile(ctx context.Context, companyNumber string) (*Profile, error) {
	number := strings.ToUpper(strings.TrimSpace(companyNumber))
	if number == "" {
		return nil, &LookupError{Op: opProfile, Kind: KindNotFound, Message: "empty company number"}
	}

	key := cache.CacheKey{Op: cache.OpProfile, Subject: number}
	body, cached := c.fromCache(ctx, key)
	if !cached {
		var err error
		body, err = c.get(ctx, opProfile, "/company/"+url.PathEscape(number), nil)
		if err != nil {
			return nil, err
		}
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, c.fail(&LookupError{Op: opProfile, Kind: KindTransient, Message: "decode profile", Err: err})
	}
	if profile.CompanyNumber == "" {
		profile.CompanyNumber = number
	}
	profile.Raw = json.RawMessage(body)
	profile.Cached = cached

	if !cached {
		c.toCache(ctx, key, body)
	}
	return &profile, nil
}

// get issues one authenticated GET with a freshly selected credential.
// Usage is recorded before the request is sent, so every attempt counts
// whatever its outcome.
func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, c.fail(&LookupError{Op: op, Kind: KindTransient, Message: "create request", Err: err})
	}

	cred := c.creds.Select()
	req.SetBasicAuth(cred.Key, "")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	c.creds.RecordUsage(cred)

	c.logger.Debug().
		Str("op", op).
		Str("path", path).
		Str("credential", cred.Label()).
		Msg("Executing Companies House request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	apiRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	if err != nil {
		apiRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return nil, c.fail(&LookupError{Op: op, Kind: KindTransient, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	apiRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, c.fail(&LookupError{Op: op, Kind: KindTransient, StatusCode: resp.StatusCode, Message: "read body", Err: err})
		}
		return body, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	lerr := &LookupError{
		Op:         op,
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}
	switch lerr.Kind {
	case KindForbidden:
		cooldown := retryAfter(resp.Header, c.config.ForbiddenCooldown)
		c.creds.MarkForbidden(cred, cooldown)
		c.logger.Error().
			Str("op", op).
			Str("credential", cred.Label()).
			Dur("cooldown", cooldown).
			Msg("Credential forbidden")
	case KindRateLimited:
		c.logger.Warn().
			Str("op", op).
			Str("credential", cred.Label()).
			Msg("Rate limited by Companies House")
	default:
		c.logger.Warn().
			Str("op", op).
			Int("status_code", resp.StatusCode).
			Str("error_kind", string(lerr.Kind)).
			Msg("Companies House request error")
	}
	return nil, c.fail(lerr)
}

func (c *Client) fail(err *LookupError) error {
	apiErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	return err
}

func (c *Client) fromCache(ctx context.Context, key cache.CacheKey) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return nil, false
	}
	c.logger.Debug().Str("key", key.String()).Msg("Cache hit")
	return entry.Data, true
}

func (c *Client) toCache(ctx context.Context, key cache.CacheKey, body []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, body); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
	}
}

// retryAfter reads a Retry-After header in seconds or HTTP-date form,
// falling back to def.
func retryAfter(h http.Header, def time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
