package loadbalancer

import (
	"context"
	"math/rand"
	"time"

	moderrors "github.com/edgemesh/core/pkg/errors"
	"github.com/edgemesh/core/pkg/logging"
)

// Config tunes a Balancer.
type Config struct {
	Policy           Policy
	HealthCheckPath  string
	HealthInterval   time.Duration
	HealthTimeout    time.Duration
	DNSTTL           time.Duration
	RoutingCacheSize int
	MaxCandidates    int // N in the spec's "top N" rules, default 3
	GeoIPPath        string
}

// Balancer selects a ranked set of endpoints for each request, combining
// GeoIP resolution, a routing policy, a routing decision cache, and
// background health probing.
type Balancer struct {
	cfg     Config
	regions []*Region
	geo     *GeoResolver
	prober  *Prober
	cache   *RoutingCache
	rng     *rand.Rand
	log     *logging.Logger
	lastHints map[string]ScaleHint
}

// New constructs a Balancer over regions.
func New(cfg Config, regions []*Region, log *logging.Logger) *Balancer {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 3
	}
	return &Balancer{
		cfg:     cfg,
		regions: regions,
		geo:     NewGeoResolver(cfg.GeoIPPath, log),
		prober:  NewProber(cfg.HealthCheckPath, cfg.HealthTimeout, log),
		cache:   NewRoutingCache(cfg.RoutingCacheSize, cfg.DNSTTL),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log,
		lastHints: make(map[string]ScaleHint),
	}
}

// StartBackgroundWork launches the health prober sweep and the capacity
// manager, both running until ctx is canceled.
func (b *Balancer) StartBackgroundWork(ctx context.Context) {
	interval := b.cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.prober.ProbeAll(ctx, b.regions)
			}
		}
	}()

	cm := NewCapacityManager(b.regions, func(h ScaleHint) { b.lastHints[h.RegionCode] = h }, b.log)
	cm.Start(ctx)
}

// Route resolves the routing decision for one request, consulting the
// routing cache first.
func (b *Balancer) Route(ctx context.Context, clientIP, path, method string) ([]Candidate, bool, error) {
	key := RouteKey{ClientIP: clientIP, Path: path, Method: method}
	if cached, ok := b.cache.Get(key); ok {
		return candidatesForURLs(b.regions, cached), true, nil
	}

	cands, err := b.evaluate(clientIP)
	if err != nil {
		return nil, false, err
	}
	if len(cands) == 0 {
		return nil, false, &moderrors.Error{Kind: moderrors.KindNoHealthyEndpoint, Message: "no healthy endpoint available"}
	}

	urls := make([]string, 0, len(cands))
	for _, c := range cands {
		urls = append(urls, c.Endpoint.URL)
	}
	b.cache.Put(key, urls)
	return cands, false, nil
}

func (b *Balancer) evaluate(clientIP string) ([]Candidate, error) {
	policy := b.cfg.Policy
	if policy == PolicyGeoproximity {
		lat, lon, ok := b.geo.Resolve(clientIP)
		if !ok {
			policy = PolicyLatency
		} else {
			return SelectGeoproximity(b.regions, lat, lon, b.cfg.MaxCandidates), nil
		}
	}

	switch policy {
	case PolicyLatency:
		return SelectLatency(b.regions, b.cfg.MaxCandidates), nil
	case PolicyWeighted:
		return SelectWeighted(b.regions, b.cfg.MaxCandidates, b.rng), nil
	case PolicyCost:
		return SelectCost(b.regions, b.cfg.MaxCandidates), nil
	case PolicyFailover:
		return SelectFailover(b.regions), nil
	case PolicyMultivalue:
		return SelectMultivalue(b.regions, b.cfg.MaxCandidates), nil
	default:
		return SelectLatency(b.regions, b.cfg.MaxCandidates), nil
	}
}

// OnFailover flushes the routing cache, matching the spec's "forced flush
// on failover event".
func (b *Balancer) OnFailover() {
	b.cache.Flush()
}

// Hints returns the most recent scale hint observed per region.
func (b *Balancer) Hints() map[string]ScaleHint {
	out := make(map[string]ScaleHint, len(b.lastHints))
	for k, v := range b.lastHints {
		out[k] = v
	}
	return out
}

// Status reports per-region, per-endpoint health, for the observability
// endpoint.
type Status struct {
	RegionCode   string
	EndpointURL  string
	Healthy      bool
	Availability float64
	LastRTTMS    float64
}

// Statuses returns a snapshot of every endpoint's health across all regions.
func (b *Balancer) Statuses() []Status {
	var out []Status
	for _, r := range b.regions {
		for _, e := range r.Endpoints {
			healthy, availability, rtt := e.snapshot()
			out = append(out, Status{RegionCode: r.Code, EndpointURL: e.URL, Healthy: healthy, Availability: availability, LastRTTMS: rtt})
		}
	}
	return out
}

func candidatesForURLs(regions []*Region, urls []string) []Candidate {
	wanted := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		wanted[u] = struct{}{}
	}
	var out []Candidate
	for _, r := range regions {
		for _, e := range r.Endpoints {
			if _, ok := wanted[e.URL]; ok {
				out = append(out, Candidate{Region: r, Endpoint: e})
			}
		}
	}
	return out
}
