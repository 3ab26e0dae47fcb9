package enrichment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for enrichment runs.
var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_records_total",
		Help: "Total records settled by outcome (enriched, failed, retried)",
	}, []string{"outcome"})

	cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_cooldowns_total",
		Help: "Total pool-wide cooldowns by reason",
	}, []string{"reason"})

	cooldownSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_cooldown_seconds_total",
		Help: "Total time spent in pool-wide cooldowns",
	})

	retryQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enricher_retry_queue_length",
		Help: "Records waiting in the retry queue of the current batch",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enricher_batch_duration_seconds",
		Help:    "Wall time per batch including its retry drain",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
	})
)
