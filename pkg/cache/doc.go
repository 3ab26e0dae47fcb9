// Package cache stores Companies House lookup results in Redis so repeated
// searches and profile fetches do not spend API credentials.
//
// Entries are keyed by operation and subject (the normalised company name for
// searches, the company number for profiles) and expire after a fixed TTL.
// A cache hit never touches the credential pool.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.CacheKey{Op: cache.OpProfile, Subject: "01234567"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		_ = manager.Set(ctx, key, body)
//	}
//
// # Metrics
//
//   - enricher_cache_hits_total{op}
//   - enricher_cache_misses_total{op}
//   - enricher_cache_stored_bytes_total
//   - enricher_cache_errors_total{operation}
package cache
