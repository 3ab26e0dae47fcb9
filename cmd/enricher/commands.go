package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/epireve/uk-gateway/internal/config"
	"github.com/epireve/uk-gateway/pkg/cache"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/enrichment"
	"github.com/epireve/uk-gateway/pkg/logging"
	"github.com/epireve/uk-gateway/pkg/metrics"
	"github.com/epireve/uk-gateway/pkg/progress"
	"github.com/epireve/uk-gateway/pkg/ratelimit"
	"github.com/epireve/uk-gateway/pkg/sic"
	"github.com/epireve/uk-gateway/pkg/store"
)

const (
	sicBatchSize = 50
	sicPause     = time.Second
)

func runEnrichment(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) error {
	return runPipeline(ctx, cfg, opts, logger, func(pg *store.Postgres) enrichment.RecordStore { return pg })
}

func runReprocess(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) error {
	return runPipeline(ctx, cfg, opts, logger, func(pg *store.Postgres) enrichment.RecordStore { return pg.Reprocessable() })
}

// runPipeline opens the store and Redis, serves metrics for the duration of
// the run and drives one enrichment job over the records view picks.
func runPipeline(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger, view func(*store.Postgres) enrichment.RecordStore) error {
	pg, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	sinks := []progress.Sink{pg}
	if rdb != nil && cfg.Redis.ProgressFeed {
		rs, err := progress.NewRedisSink(rdb)
		if err != nil {
			return err
		}
		sinks = append(sinks, rs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// A broken listener must not stop the job.
		if err := metrics.Serve(gctx, cfg.Metrics.Addr, pg.DB().PingContext, logger); err != nil {
			logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server failed")
		}
		return nil
	})

	var stats enrichment.RunStats
	g.Go(func() error {
		defer cancel()
		var err error
		stats, err = enrich(gctx, cfg, view(pg), progress.NewMulti(sinks...), rdb, opts.jobID, logger)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().
		Int("successful", stats.Successful).
		Int("failed", stats.Failed).
		Int("api_calls", stats.APICalls).
		Msg(stats.Summary())
	return nil
}

// enrich builds the credential pool, lookup client and orchestrator from
// cfg and runs one job over st. rdb is optional and enables the lookup cache.
func enrich(ctx context.Context, cfg *config.Config, st enrichment.RecordStore, sink progress.Sink, rdb *redis.Client, jobID string, logger zerolog.Logger) (enrichment.RunStats, error) {
	if len(cfg.CompaniesHouse.APIKeys) == 0 {
		return enrichment.RunStats{}, fmt.Errorf("no Companies House API keys configured (set CH_API_KEYS)")
	}

	pool, err := ratelimit.NewPool(cfg.CompaniesHouse.APIKeys, cfg.RateLimit(), logging.NewLogger(logging.ComponentPool))
	if err != nil {
		return enrichment.RunStats{}, fmt.Errorf("credential pool: %w", err)
	}

	clientCfg := cfg.Client()
	if rdb != nil {
		clientCfg.Cache = cache.NewManager(rdb, cfg.Redis.CacheTTL)
	}
	lookup, err := client.New(pool, clientCfg)
	if err != nil {
		return enrichment.RunStats{}, fmt.Errorf("lookup client: %w", err)
	}

	reporter := progress.NewReporter(sink, jobID, cfg.Progress.Every, cfg.Progress.Interval)
	o, err := enrichment.New(st, lookup, pool, reporter, cfg.EnrichmentConfig())
	if err != nil {
		return enrichment.RunStats{}, err
	}

	logger.Info().
		Str("job_id", o.JobID()).
		Int("credentials", pool.Len()).
		Bool("cache", clientCfg.Cache != nil).
		Msg("Starting enrichment")
	return o.Run(ctx)
}

func runSICImport(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) error {
	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open sic file: %w", err)
	}
	defer f.Close()

	codes, err := sic.ReadCSV(f)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return fmt.Errorf("no SIC codes found in %s", opts.file)
	}

	pg, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pg.Close()

	res := importSIC(ctx, pg, codes, sicBatchSize, sicPause, logger)
	logger.Info().
		Int("codes", len(codes)).
		Int("batches_ok", res.ok).
		Int("batches_failed", res.failed).
		Msg("SIC import finished")
	if res.failed > 0 {
		return fmt.Errorf("%d of %d sic batches failed", res.failed, res.ok+res.failed)
	}
	return ctx.Err()
}

type sicUploader interface {
	UpsertSICCodes(ctx context.Context, codes []sic.Code) error
}

type importResult struct {
	ok, failed int
}

// importSIC uploads codes in batches with a pause between them. A failed
// batch is logged and skipped.
func importSIC(ctx context.Context, up sicUploader, codes []sic.Code, batchSize int, pause time.Duration, logger zerolog.Logger) importResult {
	var res importResult
	for start := 0; start < len(codes); start += batchSize {
		if start > 0 && pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return res
			case <-t.C:
			}
		}

		end := min(start+batchSize, len(codes))
		if err := up.UpsertSICCodes(ctx, codes[start:end]); err != nil {
			res.failed++
			logger.Error().Err(err).Int("from", start).Int("to", end).Msg("SIC batch failed")
			continue
		}
		res.ok++
		logger.Debug().Int("from", start).Int("to", end).Msg("SIC batch uploaded")
	}
	return res
}

func runMigrate(ctx context.Context, cfg *config.Config, _ options, logger zerolog.Logger) error {
	pg, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Schema applied")
	return nil
}

// openRedis connects to url. An empty url disables Redis and returns nil.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}
