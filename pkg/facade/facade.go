// Package facade is the coordinator's composition root: it wires
// correlation tracking, rate limiting, endpoint resolution (cross-region
// load balancing, replica routing, edge caching), circuit breaking, and
// anomaly/telemetry recording into the single pipeline every inbound
// request passes through.
package facade

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgemesh/core/pkg/anomaly"
	"github.com/edgemesh/core/pkg/cache"
	"github.com/edgemesh/core/pkg/circuitbreaker"
	"github.com/edgemesh/core/pkg/consensus"
	"github.com/edgemesh/core/pkg/correlation"
	moderrors "github.com/edgemesh/core/pkg/errors"
	"github.com/edgemesh/core/pkg/loadbalancer"
	"github.com/edgemesh/core/pkg/logging"
	"github.com/edgemesh/core/pkg/ratelimit"
	"github.com/edgemesh/core/pkg/replica"
	"github.com/edgemesh/core/pkg/telemetry"
)

// ShutdownTimeout bounds how long Shutdown waits for background components
// to stop, mirroring the original coordinator's bounded shutdown sequence.
const ShutdownTimeout = 30 * time.Second

// Deps are the components a Facade wires together. Every field is optional;
// a nil field just means that step of the pipeline is skipped.
type Deps struct {
	Correlation *correlation.Manager
	Limiter     *ratelimit.Limiter
	Breakers    *circuitbreaker.Registry
	Replicas    *replica.Router
	Cache       *cache.Cache
	Balancer    *loadbalancer.Balancer
	Consensus   *consensus.Engine
	Anomaly     *anomaly.Engine
	Telemetry   *telemetry.Manager
	Log         *logging.Logger
}

// Facade is the per-request pipeline coordinator.
type Facade struct {
	deps   Deps
	log    *logging.Logger
	cancel context.CancelFunc
}

// New builds a Facade over deps.
func New(deps Deps) *Facade {
	log := deps.Log
	if log == nil {
		log = logging.Noop()
	}
	return &Facade{deps: deps, log: log}
}

// StartBackgroundWork launches every wired component's background loop
// (health probes, capacity hints, replica lag polling, reliability trend
// sweeps) under a context this Facade owns, so Shutdown can cancel them all
// at once.
func (f *Facade) StartBackgroundWork(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	if f.deps.Balancer != nil {
		f.deps.Balancer.StartBackgroundWork(bgCtx)
	}
	if f.deps.Replicas != nil {
		f.deps.Replicas.StartProbing(bgCtx, 5*time.Second)
	}
	if f.deps.Consensus != nil {
		f.deps.Consensus.StartReliabilityTrend(bgCtx, time.Minute)
	}
}

// Shutdown stops accepting new background work and waits up to
// ShutdownTimeout for components with an explicit drain step (today, only
// the telemetry exporter) to flush, translating main_coordinator.py's
// task-cancellation shutdown sequence into a bounded errgroup wait.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.log.Info("facade shutdown initiated")
	if f.cancel != nil {
		f.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	if f.deps.Telemetry != nil {
		g.Go(func() error { return f.deps.Telemetry.Shutdown(gctx) })
	}
	return g.Wait()
}

// Source identifies which component resolved a request's target.
type Source string

const (
	SourceCache       Source = "cache"
	SourceReplica     Source = "replica"
	SourceLoadBalancer Source = "loadbalancer"
	SourceDirect      Source = "direct"
)

// Resolution is the outcome of endpoint resolution: exactly one of DB or
// Target is meaningful, depending on Source.
type Resolution struct {
	Source   Source
	DB       *sql.DB
	Target   string
	Degraded bool
}

// OriginCall performs the actual downstream work (an HTTP call to a resolved
// endpoint, or a query against a resolved database handle) and returns the
// entry to cache and serve.
type OriginCall func(ctx context.Context, res Resolution) (*cache.Entry, error)

// Request describes one inbound call the facade mediates.
type Request struct {
	HTTP        *http.Request
	CallerKey   string
	BreakerName string

	// CacheKey, when non-nil on a GET, routes the request through the edge
	// cache with CacheStrategy; Origin becomes the cache's miss/revalidation
	// fetcher.
	CacheKey      *cache.KeyParts
	CacheStrategy cache.Strategy

	// ReadLevel, when non-empty, routes resolution through the replica
	// router instead of the load balancer.
	ReadLevel   replica.Level
	ReadRequest replica.ReadRequest

	Origin OriginCall
}

// Response is what Handle returns on success.
type Response struct {
	Entry      *cache.Entry
	Cached     bool
	Stale      bool
	Degraded   bool
	Headers    map[string]string
}

// Handle runs one request through the full pipeline: open a correlation
// context, admit it under the rate limiter, resolve a downstream target,
// invoke it behind a circuit breaker (through the cache when cacheable),
// and record outcome metrics.
func (f *Facade) Handle(ctx context.Context, req Request) (*Response, error) {
	corr := f.openCorrelation(ctx, req.HTTP)
	ctx = correlation.WithContext(ctx, corr)

	if err := f.admit(ctx, req); err != nil {
		return nil, err
	}

	var resp *Response
	var err error
	operation := req.BreakerName
	if operation == "" {
		operation = "facade.handle"
	}

	run := func(ctx context.Context) error {
		resp, err = f.dispatch(ctx, req, corr)
		return err
	}

	if f.deps.Telemetry != nil {
		_ = f.deps.Telemetry.TraceOperation(ctx, operation, run)
	} else {
		_ = run(ctx)
	}

	if err != nil {
		return nil, err
	}

	resp.Headers = corr.ToHeaders()
	return resp, nil
}

func (f *Facade) openCorrelation(ctx context.Context, r *http.Request) *correlation.Context {
	if f.deps.Correlation == nil {
		return correlation.Open("", "internal")
	}
	if r == nil {
		return correlation.Open("", "internal")
	}
	return f.deps.Correlation.FromRequest(r)
}

func (f *Facade) admit(ctx context.Context, req Request) error {
	if f.deps.Limiter == nil {
		return nil
	}
	path := req.BreakerName
	if req.HTTP != nil {
		path = req.HTTP.URL.Path
	}
	decision, err := f.deps.Limiter.Allow(ctx, req.CallerKey, path, time.Now())
	if err != nil {
		f.log.Warn("rate limiter degraded", "error", err.Error())
	}
	if !decision.Allowed {
		return &moderrors.Error{
			Kind:       moderrors.KindRateLimited,
			Message:    "rate limit exceeded for " + req.CallerKey,
			RetryAfter: decision.RetryAfter,
		}
	}
	return nil
}

// dispatch resolves a target, invokes Origin behind a circuit breaker (via
// the cache when the request is cacheable), and records the outcome.
func (f *Facade) dispatch(ctx context.Context, req Request, corr *correlation.Context) (*Response, error) {
	res, degraded, err := f.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	fetch := f.guardedFetch(req, res, corr)

	if req.CacheKey != nil && req.HTTP != nil && req.HTTP.Method == http.MethodGet && f.deps.Cache != nil {
		key := cache.DeriveKey(*req.CacheKey)
		result, err := f.deps.Cache.Get(ctx, key, cache.GetOptions{Strategy: req.CacheStrategy, Fetch: fetch})
		if err != nil {
			return nil, err
		}
		return &Response{Entry: result.Entry, Cached: result.Hit, Stale: result.Stale, Degraded: degraded}, nil
	}

	entry, err := fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	return &Response{Entry: entry, Degraded: degraded}, nil
}

// guardedFetch wraps req.Origin so every downstream call goes through the
// named circuit breaker and gets its latency recorded for anomaly
// detection, regardless of whether it is reached directly or via the cache.
func (f *Facade) guardedFetch(req Request, res Resolution, corr *correlation.Context) cache.Fetcher {
	return func(ctx context.Context, _ string) (*cache.Entry, error) {
		var entry *cache.Entry
		started := time.Now()

		call := func(ctx context.Context) error {
			var err error
			entry, err = req.Origin(ctx, res)
			return err
		}

		var err error
		if f.deps.Breakers != nil {
			breakerName := req.BreakerName
			if breakerName == "" {
				breakerName = "downstream"
			}
			err = f.deps.Breakers.Get(breakerName).Execute(ctx, call)
		} else {
			err = call(ctx)
		}

		if f.deps.Anomaly != nil {
			f.deps.Anomaly.Record("downstream_latency_ms", float64(time.Since(started).Milliseconds()), corr.CorrelationID, corr.TraceID)
		}

		if err != nil {
			return nil, classifyDownstreamError(ctx, err)
		}
		return entry, nil
	}
}

func classifyDownstreamError(ctx context.Context, err error) error {
	if modErr, ok := err.(*moderrors.Error); ok {
		return modErr
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &moderrors.Error{Kind: moderrors.KindDownstreamTimeout, Message: "downstream call timed out", Err: err}
	}
	return &moderrors.Error{Kind: moderrors.KindDownstreamError, Message: "downstream call failed", Err: err}
}

// resolve picks a downstream target: the replica router for read requests
// that name a consistency level, the load balancer for everything else with
// a balancer wired, or a bare direct call when neither applies (the caller's
// Origin is then responsible for knowing where to go).
func (f *Facade) resolve(ctx context.Context, req Request) (Resolution, bool, error) {
	if req.ReadLevel != "" && f.deps.Replicas != nil {
		db, degraded, err := f.deps.Replicas.Reader(ctx, req.ReadRequest)
		if err != nil {
			return Resolution{}, false, err
		}
		return Resolution{Source: SourceReplica, DB: db, Degraded: degraded}, degraded, nil
	}

	if f.deps.Balancer != nil {
		clientIP, path, method := "", "", http.MethodGet
		if req.HTTP != nil {
			clientIP = clientIPFromRequest(req.HTTP)
			path = req.HTTP.URL.Path
			method = req.HTTP.Method
		}
		candidates, _, err := f.deps.Balancer.Route(ctx, clientIP, path, method)
		if err != nil {
			return Resolution{}, false, err
		}
		target := candidates[0].Endpoint.URL
		return Resolution{Source: SourceLoadBalancer, Target: target}, false, nil
	}

	return Resolution{Source: SourceDirect}, false, nil
}

func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
