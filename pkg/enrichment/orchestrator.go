// Package enrichment runs bulk Companies House enrichment over the pending
// records of the store.
//
// A run pages through pending records by ascending id, splits each page into
// batches and drives every batch through a bounded worker pool. Each worker
// takes one record through search, profile fetch and persist. Records that
// hit a rate limit or a 403 go to a retry queue which is replayed
// sequentially, after a pool-wide cooldown when the credentials are
// exhausted or forbidden. Records that cannot be enriched are written to the
// failure ledger; none is dropped silently.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/logging"
	"github.com/epireve/uk-gateway/pkg/pagination"
	"github.com/epireve/uk-gateway/pkg/progress"
	"github.com/epireve/uk-gateway/pkg/store"
)

// RecordStore is the store the orchestrator reads pending records from and
// writes results to. *store.Postgres and its reprocessing view satisfy it.
type RecordStore interface {
	pagination.Source
	PersistEnriched(ctx context.Context, id int64, f store.EnrichedFields) error
	RecordFailure(ctx context.Context, f store.Failure) error
}

// Lookup performs the two remote calls per record. *client.Client satisfies it.
type Lookup interface {
	Search(ctx context.Context, name string) (*client.Candidate, error)
	Profile(ctx context.Context, companyNumber string) (*client.Profile, error)
}

// CredentialPool is the part of the credential pool the orchestrator needs
// to decide on cooldowns. *ratelimit.Pool satisfies it.
type CredentialPool interface {
	AllExhausted() bool
	AnyForbidden() bool
	NextAvailableIn() time.Duration
	ResetAll()
}

// Orchestrator drives enrichment runs. A single Orchestrator must not run
// concurrently with itself.
type Orchestrator struct {
	store    RecordStore
	lookup   Lookup
	pool     CredentialPool
	reporter *progress.Reporter
	config   Config
	limiter  *rate.Limiter
	logger   zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
	now    func() time.Time
}

// New creates an orchestrator. A nil reporter reports nowhere.
func New(st RecordStore, lookup Lookup, pool CredentialPool, reporter *progress.Reporter, cfg Config) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("lookup client is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid enrichment config: %w", err)
	}
	if reporter == nil {
		reporter = progress.NewReporter(nil, "", 0, 0)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Orchestrator{
		store:    st,
		lookup:   lookup,
		pool:     pool,
		reporter: reporter,
		config:   cfg,
		limiter:  limiter,
		logger:   logging.WithJob(logging.NewLogger(logging.ComponentOrchestrator), reporter.JobID()),
		sleep:    sleepCtx,
		jitter:   rand.Int64N,
		now:      time.Now,
	}, nil
}

// JobID returns the id progress is reported under.
func (o *Orchestrator) JobID() string {
	return o.reporter.JobID()
}

// run is the state of one Run call.
type run struct {
	*Orchestrator

	stats   RunStats
	pending int

	// halted stops every worker from issuing remote calls once a 403 was
	// seen, until the forbidden cooldown has completed.
	halted    atomic.Bool
	gate      sync.Mutex
	cooldowns atomic.Int64
}

// Run enriches every pending record, page by page, until none is left. It
// returns an error only for store failures or cancellation; per-record
// failures end up in the ledger and in RunStats.Failed.
func (o *Orchestrator) Run(ctx context.Context) (RunStats, error) {
	r := &run{Orchestrator: o}
	r.stats.StartedAt = o.now()

	pager, err := pagination.NewPager(o.store, o.config.PageSize)
	if err != nil {
		return r.stats, err
	}

	pending, err := o.store.CountPendingAfter(ctx, 0)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("count pending records: %w", err))
	}
	r.pending = pending

	o.logger.Info().
		Int("pending", pending).
		Int("page_size", o.config.PageSize).
		Int("batch_size", o.config.BatchSize).
		Int("concurrency", o.config.Concurrency).
		Msg("Enrichment run started")
	o.reporter.Start(ctx, pending)
	o.reporter.Log(ctx, progress.LevelInfo, fmt.Sprintf("Starting enrichment of %d pending companies", pending))

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, err)
		}

		page, err := pager.Next(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if page == nil {
			break
		}

		r.stats.Pages++
		o.logger.Info().
			Int("page", r.stats.Pages).
			Int("records", len(page)).
			Int64("cursor", pager.Cursor()).
			Msg("Processing page")

		ps, err := r.processPage(ctx, page)
		r.stats.add(ps)
		if err != nil {
			return r.fail(ctx, err)
		}

		if !pager.Done() {
			if err := o.sleep(ctx, o.config.PagePause); err != nil {
				return r.fail(ctx, err)
			}
		}
	}

	r.stats.Cooldowns = int(r.cooldowns.Load())
	r.stats.finish(o.now())

	o.logger.Info().
		Int("total", r.stats.Total).
		Int("successful", r.stats.Successful).
		Int("failed", r.stats.Failed).
		Int("api_calls", r.stats.APICalls).
		Int("pages", r.stats.Pages).
		Int("retried", r.stats.Retried).
		Int("cooldowns", r.stats.Cooldowns).
		Dur("duration", r.stats.Duration).
		Msg("Enrichment run completed")
	o.reporter.Finish(ctx, progress.StatusCompleted, r.stats.Successful, r.stats.Failed, r.stats.Total, r.stats.Summary())

	return r.stats, nil
}

// processPage runs every batch of the page and reports progress after each.
func (r *run) processPage(ctx context.Context, page []store.Record) (BatchStats, error) {
	var ps BatchStats
	for start := 0; start < len(page); start += r.config.BatchSize {
		if start > 0 {
			if err := r.sleep(ctx, r.config.BatchPause); err != nil {
				return ps, err
			}
		}

		end := min(start+r.config.BatchSize, len(page))
		r.stats.Batches++
		bs, err := r.processBatch(ctx, page[start:end])
		ps.merge(bs)
		if err != nil {
			return ps, err
		}

		r.logger.Info().
			Int("batch", r.stats.Batches).
			Int("successful", bs.Successful).
			Int("failed", bs.Failed).
			Int("api_calls", bs.APICalls).
			Msg("Batch complete")

		processed := r.stats.Successful + ps.Successful
		failed := r.stats.Failed + ps.Failed
		if r.reporter.Progress(ctx, processed, failed, max(r.pending, r.stats.Total+ps.Total), false) {
			ps.LastStatUpdate = r.now()
		}
	}
	return ps, nil
}

// fail finishes an aborted run. The job is marked failed with a summary; the
// error itself only goes to the log.
func (r *run) fail(ctx context.Context, err error) (RunStats, error) {
	r.stats.Cooldowns = int(r.cooldowns.Load())
	r.stats.finish(r.now())

	verb := "stopped"
	if errors.Is(err, context.Canceled) {
		verb = "cancelled"
	}
	msg := fmt.Sprintf("Enrichment %s after %d companies (%d enriched, %d failed)",
		verb, r.stats.Successful+r.stats.Failed, r.stats.Successful, r.stats.Failed)

	r.logger.Error().
		Err(err).
		Int("successful", r.stats.Successful).
		Int("failed", r.stats.Failed).
		Msg("Enrichment run aborted")
	r.reporter.Finish(context.WithoutCancel(ctx), progress.StatusFailed,
		r.stats.Successful, r.stats.Failed, r.stats.Total, msg)

	return r.stats, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
