// internal/webinfo/webinfo.go
//
// Request origin enrichment.
//
// Context
// -------
// Wraps a MaxMind GeoIP2 database behind a nil-safe resolver.  The
// database is optional: when no path is configured, Open returns a
// resolver whose lookups answer with empty values, so access logging
// never has to branch on availability.
package webinfo

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Location is the subset of GeoIP fields worth logging.
type Location struct {
	Country string
	City    string
}

// Resolver answers geo lookups for client IPs.  The zero value and a
// nil-reader resolver are both usable; lookups just come back empty.
type Resolver struct {
	reader *geoip2.Reader
}

// Open loads the GeoIP database at path.  An empty path yields a
// resolver with no reader; a load failure is logged and degraded to the
// same, because geo data is enrichment, not a dependency.
func Open(path string) *Resolver {
	if path == "" {
		return &Resolver{}
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		zap.S().Warnw("geoip database unavailable", "path", path, "err", err)
		return &Resolver{}
	}
	return &Resolver{reader: reader}
}

// Lookup resolves ip to a location.  Unparseable addresses and private
// ranges come back empty.
func (r *Resolver) Lookup(ip string) Location {
	if r == nil || r.reader == nil {
		return Location{}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return Location{}
	}
	rec, err := r.reader.City(parsed)
	if err != nil {
		return Location{}
	}
	return Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
}

// Close releases the underlying database, if any.
func (r *Resolver) Close() {
	if r != nil && r.reader != nil {
		r.reader.Close()
	}
}
