// Package geoip resolves client IPs to a country and region.
package geoip

import (
	"encoding/json"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP looks up locations in a MaxMind DB or, when the file is not a MaxMind
// database, in a JSON list of CIDR records.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
	region  string
}

// Location is where an IP is registered. Empty fields mean unknown.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

// Init opens the database located at path. The JSON fallback format is
// [{"net": "203.0.113.0/24", "country": "BR", "region": "SP"}].
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, record{net: n, country: e.Country, region: e.Region})
		}
	}
	return g, nil
}

// Locate returns the location of a textual IP. Unparseable input, a nil
// receiver and unknown addresses all yield an empty Location.
func (g *GeoIP) Locate(ipString string) Location {
	if g == nil {
		return Location{}
	}
	ip := net.ParseIP(ipString)
	if ip == nil {
		return Location{}
	}
	if g.db != nil {
		if rec, err := g.db.City(ip); err == nil {
			loc := Location{Country: rec.Country.IsoCode}
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			if loc.Country != "" {
				return loc
			}
		}
		if rec, err := g.db.Country(ip); err == nil && rec.Country.IsoCode != "" {
			return Location{Country: rec.Country.IsoCode}
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return Location{Country: r.country, Region: r.region}
		}
	}
	return Location{}
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
