// Package redact masks API credentials before they reach logs, metrics or
// the failure ledger.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Basic <b64>" and "Bearer <token>" authorization values.
	authHeaderRe = regexp.MustCompile(`(?i)\b(Basic|Bearer)\s+[^\s"']+`)

	// Userinfo embedded in URLs, e.g. https://key:@api.company-information.service.gov.uk.
	urlUserinfoRe = regexp.MustCompile(`(?i)(https?://)[^/\s:@]+(:[^/\s@]*)?@`)

	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|ch[_-]?api[_-]?keys?)\b\s*[:=]\s*[^\s"']+`)
)

// Secrets removes credential-bearing substrings from an error or log string.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := authHeaderRe.ReplaceAllString(s, "$1 <redacted>")
	out = urlUserinfoRe.ReplaceAllString(out, "$1<redacted>@")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

// Fingerprint returns a short masked form of a credential that is safe to log.
func Fingerprint(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Truncate shortens s to at most max bytes, marking the cut with "...".
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
