package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/www"
)

// Location is an approximate position, typically derived from an IP address
type Location struct {
	City string  `json:"city"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

func (l *Location) String() string {
	return fmt.Sprintf("%v (%v, %v)", l.City, l.Lat, l.Lon)
}

// Locator turns a host name or IP address into a Location.
// The hint "me" means the public address of this machine.
type Locator interface {
	Lookup(ctx context.Context, hint string) (*Location, error)
}

// IPInfo looks up locations with the ipinfo.io JSON API
type IPInfo struct {
	BaseURL string
	Token   string // Optional API token. The free tier works without one.
	Timeout time.Duration
}

func NewIPInfo() *IPInfo {
	return &IPInfo{
		BaseURL: "https://ipinfo.io",
		Timeout: 10 * time.Second,
	}
}

type ipinfoResponse struct {
	IP    string `json:"ip"`
	City  string `json:"city"`
	Loc   string `json:"loc"` // "lat,lon"
	Bogon bool   `json:"bogon"`
}

func (g *IPInfo) lookupURL(hint string) string {
	if hint == "" || hint == "me" {
		return g.BaseURL + "/json"
	}
	return g.BaseURL + "/" + url.PathEscape(hint) + "/json"
}

func (g *IPInfo) Lookup(ctx context.Context, hint string) (*Location, error) {
	if g.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", g.lookupURL(hint), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp := ipinfoResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("Geolocation of '%v' failed: %w", hint, err)
	}
	if resp.Bogon {
		return nil, fmt.Errorf("Geolocation of '%v' failed: %v is a private address", hint, resp.IP)
	}
	lat, lon, err := ParseLoc(resp.Loc)
	if err != nil {
		return nil, fmt.Errorf("Geolocation of '%v' failed: %w", hint, err)
	}
	return &Location{
		City: resp.City,
		Lat:  lat,
		Lon:  lon,
	}, nil
}

// ParseLoc parses a "lat,lon" pair such as "-33.9249,18.4241"
func ParseLoc(loc string) (lat, lon float64, err error) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0, errors.New("missing or malformed 'loc'")
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("Invalid latitude: %w", err)
	}
	if lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("Invalid longitude: %w", err)
	}
	return lat, lon, nil
}
