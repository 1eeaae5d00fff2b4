// Package observability exposes the coordinator's internal state over HTTP:
// per-component status and metrics, a Prometheus scrape endpoint, and a pair
// of bearer-token-gated mutating endpoints for manual breaker reset and
// cache flush.
package observability

import (
	"github.com/edgemesh/core/pkg/anomaly"
	"github.com/edgemesh/core/pkg/cache"
	"github.com/edgemesh/core/pkg/circuitbreaker"
	"github.com/edgemesh/core/pkg/consensus"
	"github.com/edgemesh/core/pkg/correlation"
	"github.com/edgemesh/core/pkg/health"
	"github.com/edgemesh/core/pkg/loadbalancer"
	"github.com/edgemesh/core/pkg/ratelimit"
	"github.com/edgemesh/core/pkg/replica"
	"github.com/edgemesh/core/pkg/telemetry"
)

// Deps wires the components this package reports on and gates. Any field
// may be nil; handlers degrade to an empty/omitted section rather than
// panicking, since not every deployment wires every optional component.
type Deps struct {
	Breakers    *circuitbreaker.Registry
	RateLimiter *ratelimit.Limiter
	Replicas    *replica.Router
	Cache       *cache.Cache
	Balancer    *loadbalancer.Balancer
	Consensus   *consensus.Engine
	Health      *health.Aggregator
	Correlation *correlation.Manager
	Alerts      *anomaly.History
	Telemetry   *telemetry.Manager

	// AdminToken gates POST /reset/{breaker} and POST /cache/flush. An empty
	// token disables both endpoints (they always return 401).
	AdminToken string
}
