// Package loadbalancer selects a regional endpoint for each inbound request
// according to one of six routing policies, tracks endpoint health via
// background probes, and emits per-region capacity scale hints.
package loadbalancer

import "sync"

// Endpoint is one concrete address a region can be routed to.
type Endpoint struct {
	URL    string
	Weight float64

	mu          sync.Mutex
	healthy     bool
	consecFail  int
	consecOK    int
	availability float64 // EMA of probe success, 0..1
	lastRTTMS   float64
}

func newEndpoint(url string, weight float64) *Endpoint {
	if weight <= 0 {
		weight = 1
	}
	return &Endpoint{URL: url, Weight: weight, healthy: true, availability: 1}
}

func (e *Endpoint) snapshot() (healthy bool, availability, rttMS float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy, e.availability, e.lastRTTMS
}

// Region groups a named geographic region's endpoints and routing metadata.
type Region struct {
	Code           string
	Name           string
	Latitude       float64
	Longitude      float64
	CapacityRPS    float64
	CostPerMillion float64
	Active         bool

	Endpoints []*Endpoint

	mu          sync.Mutex
	currentLoad float64 // requests/sec observed, set by recordLoad and read by the capacity manager
}

// NewRegion constructs a Region from endpoint URLs, each given weight 1.
func NewRegion(code, name string, lat, lon, capacityRPS, costPerMillion float64, endpoints []string) *Region {
	r := &Region{
		Code: code, Name: name, Latitude: lat, Longitude: lon,
		CapacityRPS: capacityRPS, CostPerMillion: costPerMillion, Active: true,
	}
	for _, url := range endpoints {
		r.Endpoints = append(r.Endpoints, newEndpoint(url, 1))
	}
	return r
}

func (r *Region) healthyEndpoints() []*Endpoint {
	var out []*Endpoint
	for _, e := range r.Endpoints {
		if healthy, _, _ := e.snapshot(); healthy {
			out = append(out, e)
		}
	}
	return out
}

func (r *Region) recordLoad(rps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentLoad = rps
}

func (r *Region) load() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLoad
}
