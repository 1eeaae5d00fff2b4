// Package errors defines the closed taxonomy of failures this module's
// components raise, per the error-handling design: each kind carries the
// HTTP status it surfaces as and whether the failure should propagate to the
// caller or degrade silently behind a metric.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the closed set of failure categories this module produces.
type Kind string

const (
	KindRateLimited              Kind = "rate-limited"
	KindBreakerOpen              Kind = "breaker-open"
	KindDownstreamTimeout        Kind = "downstream-timeout"
	KindDownstreamError          Kind = "downstream-error"
	KindNoHealthyEndpoint        Kind = "no-healthy-endpoint"
	KindNoPrimary                Kind = "no-primary"
	KindCacheStoreUnavailable    Kind = "cache-store-unavailable"
	KindRateLimitStoreUnavailable Kind = "ratelimit-store-unavailable"
	KindMalformedTraceHeader     Kind = "malformed-trace-header"
	KindConfigInvalid            Kind = "config-invalid"
)

// httpStatus maps each kind to the status code spec.md §7 names. Kinds that
// degrade silently (cache/ratelimit store unavailable, malformed trace
// header) are not meant to be surfaced by an HTTP handler and map to 200.
var httpStatus = map[Kind]int{
	KindRateLimited:               429,
	KindBreakerOpen:               503,
	KindDownstreamTimeout:         504,
	KindDownstreamError:           502,
	KindNoHealthyEndpoint:         503,
	KindNoPrimary:                 503,
	KindCacheStoreUnavailable:     200,
	KindRateLimitStoreUnavailable: 200,
	KindMalformedTraceHeader:      200,
	KindConfigInvalid:             1, // not an HTTP error; startup exit code 1
}

// propagates reports whether the kind should surface to the caller (vs.
// degrading silently behind a metric+alert only).
var propagates = map[Kind]bool{
	KindRateLimited:               true,
	KindBreakerOpen:               true,
	KindDownstreamTimeout:         true,
	KindDownstreamError:           true,
	KindNoHealthyEndpoint:         true,
	KindNoPrimary:                 true,
	KindCacheStoreUnavailable:     false,
	KindRateLimitStoreUnavailable: false,
	KindMalformedTraceHeader:      false,
	KindConfigInvalid:             true,
}

// Error is the typed error every component in this module returns for a
// recognized failure condition.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code this error should surface as.
func (e *Error) HTTPStatus() int { return httpStatus[e.Kind] }

// Propagates reports whether the caller should see this failure at all.
func (e *Error) Propagates() bool { return propagates[e.Kind] }

// New constructs a taxonomy error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithRetryAfter attaches a Retry-After duration (rate-limit / breaker-open
// rejections carry one per spec.md §6).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
