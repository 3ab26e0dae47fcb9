package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed lookup. Callers branch on the kind only,
// never on raw status codes or error text.
type ErrorKind string

const (
	// KindRateLimited is a 429 from the API.
	KindRateLimited ErrorKind = "rate_limited"

	// KindForbidden is a 403. The credential used is put under a cooldown.
	KindForbidden ErrorKind = "forbidden"

	// KindNotFound is a 404 or a search with no results.
	KindNotFound ErrorKind = "not_found"

	// KindTransient covers network errors, timeouts, 5xx, other 4xx and
	// undecodable bodies.
	KindTransient ErrorKind = "transient"
)

// Retryable reports whether the enrichment retry queue should replay a
// record that failed with this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindForbidden:
		return true
	default:
		return false
	}
}

// LookupError is returned by Search and Profile.
type LookupError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	msg := fmt.Sprintf("companies house %s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LookupError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. A nil error has no kind; errors that did
// not come from the client are treated as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err is a not-found lookup failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// classifyStatus maps a non-2xx HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindTransient
	}
}
