//go:build integration

package client

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/epireve/uk-gateway/internal/testutil"
	"github.com/epireve/uk-gateway/pkg/cache"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_CachedLookupFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockCompaniesHouse()
	defer mock.Close()
	mock.AddCompany(testutil.Company{
		Number:   "09876543",
		Name:     "Integration Widgets Ltd",
		SICCodes: []string{"47910"},
		Postcode: "ZZ9 9ZZ",
		Locality: "Leeds",
	})

	pool := newTestPool(t, "int-key-0", "int-key-1")
	c := newTestClient(t, mock, pool, cache.NewManager(redisClient, time.Minute))
	ctx := context.Background()

	// Phase 1: cold cache, two remote calls.
	cand, err := c.Search(ctx, "Integration Widgets Ltd")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if _, err := c.Profile(ctx, cand.CompanyNumber); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Fatalf("remote requests = %d, want 2", mock.GetRequestCount())
	}

	// Both keys were used once: least-loaded selection alternates.
	if mock.KeyUsage("int-key-0") != 1 || mock.KeyUsage("int-key-1") != 1 {
		t.Errorf("key usage = %d/%d, want 1/1", mock.KeyUsage("int-key-0"), mock.KeyUsage("int-key-1"))
	}

	// Phase 2: warm cache, no remote calls.
	cand, err = c.Search(ctx, "integration widgets ltd")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	profile, err := c.Profile(ctx, cand.CompanyNumber)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if !cand.Cached || !profile.Cached {
		t.Error("second lookup was not served from cache")
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("remote requests = %d, want 2", mock.GetRequestCount())
	}

	ttl, err := redisClient.TTL(ctx, cache.CacheKey{Op: cache.OpProfile, Subject: "09876543"}.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("profile TTL = %v, want (0, 1m]", ttl)
	}
}
