package loadbalancer

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/edgemesh/core/pkg/logging"
)

// Prober runs background GET health checks against every endpoint of every
// managed region.
type Prober struct {
	client *http.Client
	path   string
	timeout time.Duration
	log    *logging.Logger
}

// NewProber constructs a Prober whose outbound requests are instrumented
// via otelhttp, so probe spans show up under the same trace pipeline as
// everything else.
func NewProber(path string, timeout time.Duration, log *logging.Logger) *Prober {
	if path == "" {
		path = "/health"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Prober{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		path:    path,
		timeout: timeout,
		log:     log,
	}
}

// Probe issues one GET <endpoint.URL><path> and applies the
// three-consecutive-failures-unhealthy/two-consecutive-successes-healthy
// hysteresis, updating the endpoint's availability EMA (α=0.3) and last RTT.
func (p *Prober) Probe(ctx context.Context, e *Endpoint) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL+p.path, nil)
	ok := false
	if err == nil {
		resp, doErr := p.client.Do(req)
		if doErr == nil {
			ok = resp.StatusCode >= 200 && resp.StatusCode < 400
			resp.Body.Close()
		}
	}
	rtt := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastRTTMS = float64(rtt) / float64(time.Millisecond)

	const alpha = 0.3
	obs := 0.0
	if ok {
		obs = 1.0
		e.consecOK++
		e.consecFail = 0
		if !e.healthy && e.consecOK >= 2 {
			e.healthy = true
		}
	} else {
		e.consecFail++
		e.consecOK = 0
		if e.healthy && e.consecFail >= 3 {
			e.healthy = false
		}
	}
	e.availability = alpha*obs + (1-alpha)*e.availability
}

// ProbeAll runs Probe against every endpoint in regions concurrently,
// waiting for the whole sweep to finish before returning.
func (p *Prober) ProbeAll(ctx context.Context, regions []*Region) {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range regions {
		for _, e := range r.Endpoints {
			e := e
			g.Go(func() error {
				p.Probe(gctx, e)
				return nil
			})
		}
	}
	_ = g.Wait()
}
