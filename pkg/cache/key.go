package cache

import (
	"strings"
)

// Lookup operations that can be cached.
const (
	OpSearch  = "search"
	OpProfile = "profile"
)

// keyPrefix namespaces every cache key in the shared Redis database.
const keyPrefix = "enricher:ch"

// CacheKey identifies one cached lookup result.
type CacheKey struct {
	// Op is the lookup operation (OpSearch or OpProfile).
	Op string

	// Subject is the search query or company number.
	Subject string
}

// String generates a deterministic cache key string.
// Format: enricher:ch:op:subject
//
// Subjects are case-folded and whitespace-collapsed so that "ACME  Ltd" and
// "acme ltd" share an entry.
//
// Example:
//
//	enricher:ch:search:acme ltd
func (k CacheKey) String() string {
	parts := []string{keyPrefix}

	if op := strings.TrimSpace(k.Op); op != "" {
		parts = append(parts, strings.ToLower(op))
	}
	if subject := normalise(k.Subject); subject != "" {
		parts = append(parts, subject)
	}

	return strings.Join(parts, ":")
}

func normalise(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
