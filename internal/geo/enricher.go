package geo

import (
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	gocache "github.com/patrickmn/go-cache"
)

// Enricher resolves public IPs to coarse geolocation from a local MaxMind
// City database, with a bounded time-expiring cache in front of it. Lookups
// are fire-once: a failed IP is cached as a miss so there is no retry storm.
type Enricher struct {
	reader *geoip2.Reader
	cache  *gocache.Cache
}

type location struct {
	city    string
	country string
	lat     float64
	lon     float64
	ok      bool
}

// New opens the GeoIP database at path. The TTL bounds how long both hits
// and misses live in the cache.
func New(path string, ttl time.Duration) (*Enricher, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Enricher{
		reader: reader,
		cache:  gocache.New(ttl, 2*ttl),
	}, nil
}

// Resolve returns the city, country and coordinates for a public IP.
func (e *Enricher) Resolve(ip string) (string, string, float64, float64, error) {
	if cached, found := e.cache.Get(ip); found {
		loc := cached.(location)
		if !loc.ok {
			return "", "", 0, 0, fmt.Errorf("lookup for %s previously failed", ip)
		}
		return loc.city, loc.country, loc.lat, loc.lon, nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", "", 0, 0, fmt.Errorf("invalid IP %q", ip)
	}

	record, err := e.reader.City(parsed)
	if err != nil {
		e.cache.SetDefault(ip, location{})
		return "", "", 0, 0, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}

	loc := location{
		city:    record.City.Names["en"],
		country: record.Country.IsoCode,
		lat:     record.Location.Latitude,
		lon:     record.Location.Longitude,
		ok:      true,
	}
	e.cache.SetDefault(ip, loc)
	return loc.city, loc.country, loc.lat, loc.lon, nil
}

// Close releases the database reader.
func (e *Enricher) Close() error {
	return e.reader.Close()
}
