// Package health aggregates per-component health checks into one overall
// status, running every check concurrently under a bounded timeout and
// caching the result to absorb probe storms from liveness/readiness probes.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgemesh/core/pkg/logging"
)

// Status is one of the four severity levels a component (or the aggregate)
// can report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusCritical  Status = "critical"
)

// rank orders statuses so the aggregate can take the worst one observed.
var rank = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
	StatusCritical:  3,
}

// HTTPStatus maps a Status to the response code the observability endpoint
// surfaces for it.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusCritical:
		return 503
	case StatusUnhealthy:
		return 500
	default:
		return 200
	}
}

// ComponentHealth is the result of one named check.
type ComponentHealth struct {
	Name    string
	Status  Status
	Message string
	Details map[string]any
}

// Check is a single component's health probe. It must honor ctx's deadline.
type Check func(ctx context.Context) ComponentHealth

// Report is the aggregated outcome of running every registered check.
type Report struct {
	Overall    Status
	Message    string
	Components map[string]ComponentHealth
	CheckedAt  time.Time
}

// Aggregator runs registered checks concurrently and caches the combined
// result for CacheTTL to prevent repeated probes from stampeding downstream
// components.
type Aggregator struct {
	checkTimeout time.Duration
	cacheTTL     time.Duration
	log          *logging.Logger

	mu     sync.Mutex
	checks map[string]Check
	cached *Report
}

// Config tunes an Aggregator.
type Config struct {
	CheckTimeout time.Duration
	CacheTTL     time.Duration
}

// New constructs an Aggregator.
func New(cfg Config, log *logging.Logger) *Aggregator {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Aggregator{
		checkTimeout: cfg.CheckTimeout,
		cacheTTL:     cfg.CacheTTL,
		log:          log,
		checks:       make(map[string]Check),
	}
}

// Register adds a named check. Re-registering a name replaces its check.
func (a *Aggregator) Register(name string, check Check) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks[name] = check
}

// Status runs every registered check concurrently (each under its own
// per-check timeout) and aggregates the worst observed status, serving a
// cached report when one younger than CacheTTL exists.
func (a *Aggregator) Status(ctx context.Context) Report {
	a.mu.Lock()
	if a.cached != nil && time.Since(a.cached.CheckedAt) < a.cacheTTL {
		cached := *a.cached
		a.mu.Unlock()
		return cached
	}
	checks := make(map[string]Check, len(a.checks))
	for name, c := range a.checks {
		checks[name] = c
	}
	a.mu.Unlock()

	results := make(map[string]ComponentHealth, len(checks))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, a.checkTimeout)
			defer cancel()

			result := runCheck(checkCtx, name, check)

			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall, message := aggregate(results)
	report := Report{Overall: overall, Message: message, Components: results, CheckedAt: time.Now()}

	a.mu.Lock()
	a.cached = &report
	a.mu.Unlock()

	if overall != StatusHealthy {
		a.log.Warn("aggregate health degraded", "status", string(overall), "message", message)
	}

	return report
}

// runCheck guards against a check panicking or exceeding its deadline,
// converting either into an UNHEALTHY result rather than losing the whole
// sweep.
func runCheck(ctx context.Context, name string, check Check) (result ComponentHealth) {
	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ComponentHealth{Name: name, Status: StatusUnhealthy, Message: "health check panicked"}
			}
		}()
		done <- check(ctx)
	}()

	select {
	case result = <-done:
		if result.Name == "" {
			result.Name = name
		}
		return result
	case <-ctx.Done():
		return ComponentHealth{Name: name, Status: StatusUnhealthy, Message: "health check timed out"}
	}
}

// aggregate takes the worst status across all components, matching:
// any CRITICAL -> CRITICAL, else any UNHEALTHY -> UNHEALTHY, else any
// DEGRADED -> DEGRADED, else HEALTHY.
func aggregate(results map[string]ComponentHealth) (Status, string) {
	if len(results) == 0 {
		return StatusHealthy, "no components registered"
	}

	worst := StatusHealthy
	for _, r := range results {
		if rank[r.Status] > rank[worst] {
			worst = r.Status
		}
	}

	switch worst {
	case StatusCritical:
		return StatusCritical, "critical components failing"
	case StatusUnhealthy:
		return StatusUnhealthy, "some components unhealthy"
	case StatusDegraded:
		return StatusDegraded, "some components degraded"
	default:
		return StatusHealthy, "all components healthy"
	}
}
