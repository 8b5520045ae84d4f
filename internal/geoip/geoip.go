package geoip

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves viewer country codes from a MaxMind database, or from a
// JSON list of CIDR ranges for development setups without a licensed one.
type GeoIP struct {
	db     *geoip2.Reader
	ranges []cidrCountry // most specific first
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// Init opens the database at path. A file that is not a MaxMind database is
// read as a JSON array of {"net","country"} entries. An empty path yields a
// nil *GeoIP, which resolves every address to "".
func Init(path string) (*GeoIP, error) {
	if path == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	ranges, jerr := loadRanges(path)
	if jerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	return &GeoIP{ranges: ranges}, nil
}

func loadRanges(path string) ([]cidrCountry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]cidrCountry, 0, len(entries))
	for _, e := range entries {
		_, n, err := net.ParseCIDR(e.Net)
		if err != nil || e.Country == "" {
			continue
		}
		out = append(out, cidrCountry{net: n, country: strings.ToUpper(e.Country)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, _ := out[i].net.Mask.Size()
		oj, _ := out[j].net.Mask.Size()
		return oi > oj
	})
	return out, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		rec, err := g.db.Country(ip)
		if err != nil {
			return ""
		}
		return rec.Country.IsoCode
	}
	for _, r := range g.ranges {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Close releases the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
