// Package ratelimit implements the token-bucket admission check shared by
// every inbound request, keyed by caller identity handed down by the
// façade. It never infers identity itself.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	moderrors "github.com/edgemesh/core/pkg/errors"
	"github.com/edgemesh/core/pkg/logging"
	"github.com/edgemesh/core/pkg/store"
)

// Rule describes one bucket's shape: rps tokens refill per second, up to
// burst tokens held at once.
type Rule struct {
	RequestsPerSecond float64
	Burst             int
}

// leastPermissive composes a caller-level rule with a per-endpoint override
// by keeping whichever is stricter on each axis, so an endpoint override can
// only tighten, never loosen, the caller's bucket.
func leastPermissive(a, b Rule) Rule {
	out := a
	if b.RequestsPerSecond < out.RequestsPerSecond {
		out.RequestsPerSecond = b.RequestsPerSecond
	}
	if b.Burst < out.Burst {
		out.Burst = b.Burst
	}
	return out
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Degraded reports whether this decision was made without reaching the
	// shared store (fail-open path), so callers can log/alert on it.
	Degraded bool
}

// Config tunes a Limiter.
type Config struct {
	Default    Rule
	FailClosed bool              // if true, store unavailability rejects instead of admitting
	Endpoints  map[string]Rule   // per-endpoint overrides, composed least-permissive with Default
}

// Limiter evaluates token-bucket admission against a shared Store.
type Limiter struct {
	cfg   Config
	store store.Store
	log   *logging.Logger

	allowed  atomic.Int64
	denied   atomic.Int64
	degraded atomic.Int64
}

// Stats is a point-in-time counter summary, for the observability endpoint.
type Stats struct {
	Allowed  int64
	Denied   int64
	Degraded int64
}

// Stats returns the cumulative admission counts since the Limiter was
// constructed.
func (l *Limiter) Stats() Stats {
	return Stats{Allowed: l.allowed.Load(), Denied: l.denied.Load(), Degraded: l.degraded.Load()}
}

// New constructs a Limiter backed by s.
func New(cfg Config, s store.Store, log *logging.Logger) *Limiter {
	if log == nil {
		log = logging.Noop()
	}
	return &Limiter{cfg: cfg, store: s, log: log}
}

// Allow evaluates the bucket for callerKey against endpoint (empty string
// means no per-endpoint override applies) at time now.
func (l *Limiter) Allow(ctx context.Context, callerKey, endpoint string, now time.Time) (Decision, error) {
	rule := l.cfg.Default
	if override, ok := l.cfg.Endpoints[endpoint]; ok {
		rule = leastPermissive(rule, override)
	}
	if rule.RequestsPerSecond <= 0 {
		rule.RequestsPerSecond = 1
	}
	if rule.Burst <= 0 {
		rule.Burst = 1
	}

	key := bucketKey(callerKey, endpoint)
	admitted, remaining, err := l.store.EvalTokenBucket(ctx, key, rule.RequestsPerSecond, rule.Burst, now)
	if err != nil {
		l.degraded.Add(1)
		l.log.Warn("rate limit store unavailable, applying degraded policy",
			"key", key, "fail_closed", l.cfg.FailClosed, "error", err.Error())
		if l.cfg.FailClosed {
			l.denied.Add(1)
			return Decision{Allowed: false, Degraded: true}, &moderrors.Error{
				Kind:    moderrors.KindRateLimitStoreUnavailable,
				Message: "rate limit store unavailable, failing closed",
				Err:     err,
			}
		}
		l.allowed.Add(1)
		return Decision{Allowed: true, Remaining: rule.Burst, Degraded: true}, &moderrors.Error{
			Kind:    moderrors.KindRateLimitStoreUnavailable,
			Message: "rate limit store unavailable, failing open",
			Err:     err,
		}
	}

	d := Decision{Allowed: admitted, Remaining: remaining}
	if admitted {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
		d.RetryAfter = time.Duration(1.0/rule.RequestsPerSecond*1000) * time.Millisecond
	}
	return d, nil
}

func bucketKey(callerKey, endpoint string) string {
	if endpoint == "" {
		return "ratelimit:" + callerKey
	}
	return "ratelimit:" + callerKey + ":" + endpoint
}
