package loadbalancer

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/edgemesh/core/pkg/logging"
)

// GeoResolver maps a client IP to a lat/lon via an offline MaxMind-format
// database. Resolution failures (missing DB, unresolvable IP) are not
// fatal: callers degrade GEOPROXIMITY to LATENCY when ok is false.
type GeoResolver struct {
	reader *geoip2.Reader
	log    *logging.Logger
}

// NewGeoResolver opens the GeoIP database at path. A missing or malformed
// path returns a resolver that always reports ok=false rather than an
// error, since GeoIP is a routing optimization, not a hard dependency.
func NewGeoResolver(path string, log *logging.Logger) *GeoResolver {
	if log == nil {
		log = logging.Noop()
	}
	if path == "" {
		return &GeoResolver{log: log}
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn("geoip database unavailable, geoproximity routing will degrade to latency", "path", path, "error", err.Error())
		return &GeoResolver{log: log}
	}
	return &GeoResolver{reader: reader, log: log}
}

// Resolve returns the latitude/longitude for ip, or ok=false if unresolvable.
func (g *GeoResolver) Resolve(ip string) (lat, lon float64, ok bool) {
	if g.reader == nil {
		return 0, 0, false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, 0, false
	}
	record, err := g.reader.City(parsed)
	if err != nil || record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return 0, 0, false
	}
	return record.Location.Latitude, record.Location.Longitude, true
}

// Close releases the underlying database's memory-mapped file handle.
func (g *GeoResolver) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
