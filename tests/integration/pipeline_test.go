//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/epireve/uk-gateway/internal/testutil"
	"github.com/epireve/uk-gateway/pkg/cache"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/enrichment"
	"github.com/epireve/uk-gateway/pkg/progress"
	"github.com/epireve/uk-gateway/pkg/ratelimit"
	"github.com/epireve/uk-gateway/pkg/sic"
	"github.com/epireve/uk-gateway/pkg/store"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

// setupPostgres creates a migrated Postgres container for integration testing.
func setupPostgres(t *testing.T) *store.Postgres {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "enricher",
			"POSTGRES_PASSWORD": "enricher",
			"POSTGRES_DB":       "gateway",
		},
		// The server restarts once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://enricher:enricher@%s:%s/gateway?sslmode=disable", host, port.Port())
	pg, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { pg.Close() })

	if err := pg.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Idempotent: a second migration is a no-op.
	if err := pg.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return pg
}

func insertCompanies(t *testing.T, pg *store.Postgres, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := pg.DB().Exec(`INSERT INTO companies (name) VALUES ($1)`, n); err != nil {
			t.Fatalf("insert %s: %v", n, err)
		}
	}
}

func fastConfig() enrichment.Config {
	cfg := enrichment.DefaultConfig()
	cfg.PageSize, cfg.BatchSize, cfg.Concurrency = 3, 2, 2
	cfg.InterCallDelay, cfg.BatchPause, cfg.PagePause = 0, 0, 0
	cfg.RetryBaseDelay, cfg.RetryDelayStep, cfg.RetryMaxDelay, cfg.RetryPause = 0, 0, 0, 0
	return cfg
}

// newOrchestrator wires a real pool, cached client and fan-out sink.
func newOrchestrator(t *testing.T, st enrichment.RecordStore, pg *store.Postgres, rdb *redis.Client, mock *testutil.MockCompaniesHouse, jobID string) *enrichment.Orchestrator {
	t.Helper()

	pool, err := ratelimit.NewPool([]string{"key-one", "key-two"}, ratelimit.DefaultConfig(), zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.Cache = cache.NewManager(rdb, time.Hour)
	c, err := client.New(pool, cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	redisSink, err := progress.NewRedisSink(rdb)
	if err != nil {
		t.Fatalf("NewRedisSink() error = %v", err)
	}
	reporter := progress.NewReporter(progress.NewMulti(pg, redisSink), jobID, 1, time.Second)

	o, err := enrichment.New(st, c, pool, reporter, fastConfig())
	if err != nil {
		t.Fatalf("enrichment.New() error = %v", err)
	}
	return o
}

// TestPipelineEndToEnd runs a full job: Postgres pending set → pool → client
// with Redis cache → Postgres writes, ledger and job tables → Redis feed.
func TestPipelineEndToEnd(t *testing.T) {
	pg := setupPostgres(t)
	rdb := setupRedis(t)
	ctx := context.Background()

	known := []string{"Acme Ltd", "Globex Ltd", "Initech Ltd", "Umbrella Ltd"}
	mock := testutil.NewMockCompaniesHouse()
	defer mock.Close()
	for i, n := range known {
		mock.AddCompany(testutil.Company{
			Number:   fmt.Sprintf("0000000%d", i+1),
			Name:     n,
			Status:   "active",
			Type:     "ltd",
			SICCodes: []string{"62012"},
			Postcode: "EC1A 1BB",
			Locality: "London",
		})
	}
	insertCompanies(t, pg, append(known, "Ghost Trading Ltd")...)

	o := newOrchestrator(t, pg, pg, rdb, mock, "job-e2e")
	stats, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Successful != 4 || stats.Failed != 1 || stats.Total != 5 {
		t.Errorf("stats = %+v, want 4 successful and 1 failed of 5", stats)
	}

	var enriched int
	var section string
	if err := pg.DB().QueryRow(
		`SELECT COUNT(*), MAX(sic_section) FROM companies WHERE company_number IS NOT NULL`).Scan(&enriched, &section); err != nil {
		t.Fatalf("count enriched: %v", err)
	}
	if enriched != 4 || section != "Section J" {
		t.Errorf("enriched = %d, section = %q, want 4 and Section J", enriched, section)
	}

	// The unknown company is still pending with one open ledger row.
	pending, err := pg.CountPendingAfter(ctx, 0)
	if err != nil {
		t.Fatalf("CountPendingAfter() error = %v", err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
	failures, err := pg.OpenFailures(ctx, 5)
	if err != nil {
		t.Fatalf("OpenFailures() error = %v", err)
	}
	if len(failures) != 1 || failures[0].ErrorKind != string(client.KindNotFound) || failures[0].RetryCount != 1 {
		t.Errorf("failures = %+v, want one not_found row with retry count 1", failures)
	}
	if failures[0].JobID != "job-e2e" {
		t.Errorf("failure job id = %q, want job-e2e", failures[0].JobID)
	}

	// Job row in Postgres.
	var status string
	var processed, failed, total int
	if err := pg.DB().QueryRow(
		`SELECT status, items_processed, items_failed, total_items FROM jobs WHERE id = $1`, "job-e2e").
		Scan(&status, &processed, &failed, &total); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if status != string(progress.StatusCompleted) || processed != 4 || failed != 1 || total != 5 {
		t.Errorf("job = %s %d/%d/%d, want completed 4/1/5", status, processed, failed, total)
	}
	var logLines int
	if err := pg.DB().QueryRow(`SELECT COUNT(*) FROM job_logs WHERE job_id = $1`, "job-e2e").Scan(&logLines); err != nil {
		t.Fatalf("count job logs: %v", err)
	}
	if logLines == 0 {
		t.Error("no job log lines written")
	}

	// Same job mirrored to Redis.
	got, err := rdb.HGet(ctx, progress.JobKey("job-e2e"), "status").Result()
	if err != nil || got != string(progress.StatusCompleted) {
		t.Errorf("redis job status = %q, %v, want completed", got, err)
	}
}

// TestReprocessResolvesFailures enriches a previously failed record once the
// registry knows it, and resolves its ledger rows.
func TestReprocessResolvesFailures(t *testing.T) {
	pg := setupPostgres(t)
	rdb := setupRedis(t)
	ctx := context.Background()

	mock := testutil.NewMockCompaniesHouse()
	defer mock.Close()
	mock.AddCompany(testutil.Company{Number: "00000001", Name: "Acme Ltd", SICCodes: []string{"47110"}})
	insertCompanies(t, pg, "Acme Ltd", "Late Filer Ltd", "Never Seen Ltd")

	if _, err := newOrchestrator(t, pg, pg, rdb, mock, "job-first").Run(ctx); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// A new pending company without failures must not be picked up.
	insertCompanies(t, pg, "Fresh Ltd")
	mock.AddCompany(testutil.Company{Number: "00000002", Name: "Late Filer Ltd", SICCodes: []string{"47110"}})
	mock.AddCompany(testutil.Company{Number: "00000004", Name: "Fresh Ltd"})

	view := pg.Reprocessable()
	n, err := view.CountPendingAfter(ctx, 0)
	if err != nil {
		t.Fatalf("CountPendingAfter() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("reprocessable = %d, want 2", n)
	}

	stats, err := newOrchestrator(t, view, pg, rdb, mock, "job-reprocess").Run(ctx)
	if err != nil {
		t.Fatalf("reprocess Run() error = %v", err)
	}
	if stats.Successful != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 successful and 1 failed", stats)
	}

	open, err := pg.OpenFailures(ctx, 2)
	if err != nil {
		t.Fatalf("OpenFailures() error = %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open failures for the reprocessed record = %d, want 0", len(open))
	}
	open, err = pg.OpenFailures(ctx, 3)
	if err != nil {
		t.Fatalf("OpenFailures() error = %v", err)
	}
	if len(open) != 2 {
		t.Errorf("open failures for the unknown record = %d, want 2 (one per job)", len(open))
	}

	var freshNumber *string
	if err := pg.DB().QueryRow(`SELECT company_number FROM companies WHERE id = 4`).Scan(&freshNumber); err != nil {
		t.Fatalf("read fresh: %v", err)
	}
	if freshNumber != nil {
		t.Errorf("fresh company enriched by reprocess: %q", *freshNumber)
	}
}

func TestSICCodesUpsert(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	codes := []sic.Code{
		{Code: "01110", Description: "Growing of cereals", Section: sic.SectionFor("01110")},
		{Code: "62012", Description: "Business and domestic software development", Section: sic.SectionFor("62012")},
	}
	if err := pg.UpsertSICCodes(ctx, codes); err != nil {
		t.Fatalf("UpsertSICCodes() error = %v", err)
	}

	codes[1].Description = "Software development"
	if err := pg.UpsertSICCodes(ctx, codes); err != nil {
		t.Fatalf("second UpsertSICCodes() error = %v", err)
	}

	var count int
	var desc, section string
	if err := pg.DB().QueryRow(`SELECT COUNT(*) FROM sic_codes`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if err := pg.DB().QueryRow(`SELECT description, section FROM sic_codes WHERE sic_code = '62012'`).Scan(&desc, &section); err != nil {
		t.Fatalf("read: %v", err)
	}
	if count != 2 || desc != "Software development" || section != "Section J" {
		t.Errorf("sic_codes = %d rows, %q, %q", count, desc, section)
	}
}
