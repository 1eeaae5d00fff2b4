package loadbalancer

import (
	"math"
	"math/rand"
	"sort"
)

// Policy is one of the six routing strategies a request may be evaluated
// under.
type Policy string

const (
	PolicyGeoproximity Policy = "geoproximity"
	PolicyLatency       Policy = "latency"
	PolicyWeighted      Policy = "weighted"
	PolicyCost          Policy = "cost"
	PolicyFailover      Policy = "failover"
	PolicyMultivalue    Policy = "multivalue"
)

// Candidate pairs an endpoint with the region it belongs to, the unit every
// policy ranks.
type Candidate struct {
	Region   *Region
	Endpoint *Endpoint
}

func healthyCandidates(regions []*Region) []Candidate {
	var out []Candidate
	for _, r := range regions {
		if !r.Active {
			continue
		}
		for _, e := range r.healthyEndpoints() {
			out = append(out, Candidate{Region: r, Endpoint: e})
		}
	}
	return out
}

// haversineKM returns the great-circle distance between two lat/lon points
// in kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// SelectGeoproximity ranks candidates by distance from (clientLat, clientLon)
// to each candidate's region, ascending, returning the closest n.
func SelectGeoproximity(regions []*Region, clientLat, clientLon float64, n int) []Candidate {
	cands := healthyCandidates(regions)
	sort.Slice(cands, func(i, j int) bool {
		di := haversineKM(clientLat, clientLon, cands[i].Region.Latitude, cands[i].Region.Longitude)
		dj := haversineKM(clientLat, clientLon, cands[j].Region.Latitude, cands[j].Region.Longitude)
		return di < dj
	})
	return capN(cands, n)
}

// SelectLatency ranks candidates by their most recently probed RTT,
// ascending, returning the fastest n.
func SelectLatency(regions []*Region, n int) []Candidate {
	cands := healthyCandidates(regions)
	sort.Slice(cands, func(i, j int) bool {
		_, _, rttI := cands[i].Endpoint.snapshot()
		_, _, rttJ := cands[j].Endpoint.snapshot()
		return rttI < rttJ
	})
	return capN(cands, n)
}

// SelectWeighted draws n candidates without replacement, weighted by each
// endpoint's configured Weight.
func SelectWeighted(regions []*Region, n int, rng *rand.Rand) []Candidate {
	pool := healthyCandidates(regions)
	var out []Candidate
	for len(out) < n && len(pool) > 0 {
		total := 0.0
		for _, c := range pool {
			total += c.Endpoint.Weight
		}
		if total <= 0 {
			break
		}
		pick := rng.Float64() * total
		cum := 0.0
		idx := len(pool) - 1
		for i, c := range pool {
			cum += c.Endpoint.Weight
			if pick <= cum {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

// SelectCost ranks candidates by cost_per_request / (availability/100),
// ascending (cheapest-and-most-available first), returning the best n.
func SelectCost(regions []*Region, n int) []Candidate {
	cands := healthyCandidates(regions)
	score := func(c Candidate) float64 {
		_, availability, _ := c.Endpoint.snapshot()
		if availability <= 0 {
			availability = 0.01
		}
		// availability is already a 0..1 fraction, equivalent to the spec's
		// availability-percent/100 term.
		return c.Region.CostPerMillion / availability
	}
	sort.Slice(cands, func(i, j int) bool { return score(cands[i]) < score(cands[j]) })
	return capN(cands, n)
}

// SelectFailover returns the first healthy endpoint from regions in their
// given (already priority-ordered) order.
func SelectFailover(regions []*Region) []Candidate {
	cands := healthyCandidates(regions)
	return capN(cands, 1)
}

// SelectMultivalue returns up to n healthy candidates in arbitrary order.
func SelectMultivalue(regions []*Region, n int) []Candidate {
	return capN(healthyCandidates(regions), n)
}

func capN(cands []Candidate, n int) []Candidate {
	if n <= 0 || n >= len(cands) {
		return cands
	}
	return cands[:n]
}
