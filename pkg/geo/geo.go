// Package geo maps client addresses to a coarse location.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Location is best effort; empty fields mean unknown.
type Location struct {
	Country string // ISO 3166-1 alpha-2
	City    string
}

// Resolver looks up an address. ok is false when nothing is known about it.
type Resolver interface {
	Lookup(ip string) (loc Location, ok bool)
	Close() error
}

// Nop knows nothing about any address.
type Nop struct{}

func (Nop) Lookup(string) (Location, bool) { return Location{}, false }
func (Nop) Close() error                   { return nil }

// MaxMind reads a GeoLite2/GeoIP2 City database.
type MaxMind struct {
	db  *geoip2.Reader
	log *zap.Logger
}

// Open returns Nop when path is empty.
func Open(path string, log *zap.Logger) (Resolver, error) {
	if path == "" {
		log.Info("geo database not configured, clicks are stored without location")
		return Nop{}, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}

	log.Info("geo database loaded", zap.String("path", path))
	return &MaxMind{db: db, log: log}, nil
}

func (m *MaxMind) Lookup(ip string) (Location, bool) {
	addr := Routable(ip)
	if addr == nil {
		return Location{}, false
	}

	rec, err := m.db.City(addr)
	if err != nil {
		m.log.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return Location{}, false
	}

	loc := Location{Country: rec.Country.IsoCode, City: rec.City.Names["en"]}
	return loc, loc.Country != ""
}

func (m *MaxMind) Close() error {
	return m.db.Close()
}

// Routable parses ip and returns nil for unparsable, loopback, private,
// link-local and unspecified addresses.
func Routable(ip string) net.IP {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return nil
	}
	return addr
}
