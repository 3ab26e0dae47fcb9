package enrichment

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/internal/testutil"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/ratelimit"
)

// End to end against the mock API with a real pool and client.
func newScenario(t *testing.T, keys []string, limits ratelimit.Config, names ...string) (*testutil.MockCompaniesHouse, *ratelimit.Pool, *client.Client, *testutil.MemoryStore) {
	t.Helper()

	mock := testutil.NewMockCompaniesHouse()
	t.Cleanup(mock.Close)
	for i, n := range names {
		mock.AddCompany(testutil.Company{
			Number:   fmt.Sprintf("%08d", i+1),
			Name:     n,
			SICCodes: []string{"62012"},
			Postcode: "EC1A 1BB",
			Locality: "London",
		})
	}

	pool, err := ratelimit.NewPool(keys, limits, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.Timeout = 2 * time.Second
	c, err := client.New(pool, cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return mock, pool, c, testutil.NewMemoryStore(names...)
}

func TestScenario_ThreeKeysLimitTwo(t *testing.T) {
	names := []string{"Acme Ltd", "Globex Ltd", "Initech Ltd", "Umbrella Ltd", "Hooli Ltd"}
	keys := []string{"key-aaaa", "key-bbbb", "key-cccc"}
	limits := ratelimit.Config{Limit: 2, Window: time.Hour, Threshold: 0.9}
	mock, pool, c, st := newScenario(t, keys, limits, names...)

	events := &eventLog{}
	o, sink := newTestOrchestrator(t, st, c, pool, testConfig(), events)

	stats, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Successful != 5 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 5 successful", stats)
	}
	if got := mock.GetRequestCount(); got != 10 {
		t.Errorf("requests = %d, want 10", got)
	}
	if stats.APICalls != 10 {
		t.Errorf("APICalls = %d, want 10", stats.APICalls)
	}

	// Six calls exhaust every key; the seventh waits for the window.
	if stats.Cooldowns != 1 {
		t.Errorf("Cooldowns = %d, want 1", stats.Cooldowns)
	}
	long := events.sleeps(59 * time.Minute)
	if len(long) != 1 || long[0] > time.Hour+DefaultConfig().ExhaustionMargin {
		t.Errorf("window waits = %v, want one wait of about 1h + margin", long)
	}

	// Least-loaded selection in pool order: two each before the reset, then
	// k0, k1, k2, k0.
	wantUsage := map[string]int{"key-aaaa": 4, "key-bbbb": 3, "key-cccc": 3}
	for key, want := range wantUsage {
		if got := mock.KeyUsage(key); got != want {
			t.Errorf("KeyUsage(%s) = %d, want %d", key, got, want)
		}
	}

	last, _ := sink.Last()
	if last.ItemsProcessed != 5 || last.TotalItems != 5 {
		t.Errorf("final update = %+v", last)
	}
}

func TestScenario_RateLimitedByServer(t *testing.T) {
	names := []string{"Acme Ltd", "Globex Ltd"}
	mock, pool, c, st := newScenario(t, []string{"key-aaaa", "key-bbbb"}, ratelimit.DefaultConfig(), names...)
	mock.Enqueue(testutil.OpSearch, testutil.NewRateLimitResponse())

	events := &eventLog{}
	o, _ := newTestOrchestrator(t, st, c, pool, testConfig(), events)

	stats, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Successful != 2 || stats.Failed != 0 || stats.Retried != 1 {
		t.Errorf("stats = %+v, want 2 successful after 1 retry", stats)
	}
	if got := mock.OpCount(testutil.OpSearch); got != 3 {
		t.Errorf("search requests = %d, want 3", got)
	}
}

func TestScenario_ForbiddenByServer(t *testing.T) {
	names := []string{"Acme Ltd", "Globex Ltd", "Initech Ltd"}
	mock, pool, c, st := newScenario(t, []string{"key-aaaa", "key-bbbb"}, ratelimit.DefaultConfig(), names...)
	mock.Enqueue(testutil.OpSearch, testutil.NewForbiddenResponse())

	events := &eventLog{}
	o, _ := newTestOrchestrator(t, st, c, pool, testConfig(), events)

	stats, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// One 403, then nothing until the cooldown; the others were deferred.
	if stats.Cooldowns != 1 || stats.Successful != 3 {
		t.Errorf("stats = %+v, want 1 cooldown and 3 successful", stats)
	}
	if got := mock.GetRequestCount(); got != 7 {
		t.Errorf("requests = %d, want 7 (one 403 plus three full lookups)", got)
	}
	if pool.AnyForbidden() {
		t.Error("pool still has a forbidden credential after the cooldown")
	}
	cooldowns := events.sleeps(10 * time.Minute)
	if len(cooldowns) != 1 || cooldowns[0] > 15*time.Minute {
		t.Errorf("cooldowns = %v, want one in [10m, 15m]", cooldowns)
	}
}
