// Package metrics exposes the enricher's Prometheus metrics over HTTP.
// The metrics themselves are defined in their respective packages
// (ratelimit, client, cache, enrichment) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registerer every enricher metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Credential Pool Metrics (pkg/ratelimit):
//   - enricher_credential_usage_ratio{credential} (Gauge): Window usage per credential fingerprint
//   - enricher_credential_forbidden_total{credential} (Counter): Forbidden cooldowns per credential
//   - enricher_credential_pool_resets_total (Counter): Forced pool resets after a cooldown
//
// Lookup Metrics (pkg/client):
//   - enricher_api_requests_total{op, status} (Counter): Requests by operation and HTTP status
//   - enricher_api_request_duration_seconds{op} (Histogram): Request duration by operation
//   - enricher_api_errors_total{kind} (Counter): Lookup errors by kind
//
// Cache Metrics (pkg/cache):
//   - enricher_cache_hits_total{op} (Counter)
//   - enricher_cache_misses_total{op} (Counter)
//   - enricher_cache_stored_bytes_total (Counter)
//   - enricher_cache_errors_total{operation} (Counter)
//
// Orchestrator Metrics (pkg/enrichment):
//   - enricher_records_total{outcome} (Counter): Records settled as enriched, failed or retried
//   - enricher_cooldowns_total{reason} (Counter): Pool-wide cooldowns (exhausted, forbidden)
//   - enricher_cooldown_seconds_total (Counter): Time spent cooling down
//   - enricher_retry_queue_length (Gauge): Retry queue of the current batch
//   - enricher_batch_duration_seconds (Histogram): Batch wall time including its retry drain
//
// Example Prometheus Queries:
//
//   # Enrichment throughput
//   sum(rate(enricher_records_total{outcome="enriched"}[5m]))
//
//   # Credentials close to their window limit
//   enricher_credential_usage_ratio > 0.8
//
//   # Share of lookups rejected with 429
//   sum(rate(enricher_api_requests_total{status="429"}[5m])) / sum(rate(enricher_api_requests_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(enricher_api_request_duration_seconds_bucket[5m]))

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Handler serves /metrics and /healthz. A nil health check always passes.
func Handler(health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve runs the metrics listener on addr until ctx is done. An empty addr
// returns immediately.
func Serve(ctx context.Context, addr string, health HealthFunc, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
