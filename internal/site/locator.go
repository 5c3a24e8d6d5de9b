// Package site resolves where the camera is installed, either from the
// configured location string or by a public-IP geolocation lookup.
package site

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang/geo/s2"

	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

const (
	// DefaultLookupURL is the ip-api.com endpoint restricted to the fields
	// LocationData needs.
	DefaultLookupURL = "http://ip-api.com/json/?fields=status,message,country,regionName,city,lat,lon,query"

	// NotDetected is the display string when nothing is known.
	NotDetected = "Location not detected"

	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = time.Hour
)

// LocationData is the resolved site location.
type LocationData struct {
	City           string  `json:"city"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	HasCoordinates bool    `json:"has_coordinates"`
	PublicIP       string  `json:"public_ip,omitempty"`
	IsAutoDetected bool    `json:"is_auto_detected"`
	Formatted      string  `json:"formatted"`
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Query      string  `json:"query"`
}

// Fixed is an operator-supplied location. Either a name or a coordinate
// pair is enough to skip auto-detection.
type Fixed struct {
	Name      string
	Latitude  *float64
	Longitude *float64
}

// Locator looks the site up once and caches the answer. A configured
// location always wins over auto-detection.
type Locator struct {
	Client     httputil.HTTPClient
	URL        string
	Timeout    time.Duration
	CacheTTL   time.Duration
	Configured func() Fixed
	Clock      timeutil.Clock

	mu       sync.Mutex
	cached   *LocationData
	cachedAt time.Time
}

// NewLocator returns a Locator using client (nil means the default HTTP
// client) and the configured location callback.
func NewLocator(client httputil.HTTPClient, configured func() Fixed) *Locator {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Locator{
		Client:     client,
		URL:        DefaultLookupURL,
		Timeout:    DefaultTimeout,
		CacheTTL:   DefaultCacheTTL,
		Configured: configured,
		Clock:      timeutil.RealClock{},
	}
}

// fixed returns the configured location, if there is a usable one.
func (l *Locator) fixed() (LocationData, bool) {
	if l.Configured == nil {
		return LocationData{}, false
	}
	f := l.Configured()
	loc := LocationData{City: f.Name}
	if f.Latitude != nil && f.Longitude != nil {
		if ll := s2.LatLngFromDegrees(*f.Latitude, *f.Longitude); ll.IsValid() {
			loc.Latitude, loc.Longitude = *f.Latitude, *f.Longitude
			loc.HasCoordinates = true
		}
	}
	if loc.City == "" && !loc.HasCoordinates {
		return LocationData{}, false
	}
	loc.Formatted = Format(loc)
	return loc, true
}

// Lookup returns the site location. Lookup failures are logged and
// reported as NotDetected, so Lookup itself never fails.
func (l *Locator) Lookup(ctx context.Context) LocationData {
	if loc, ok := l.fixed(); ok {
		return loc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil && l.Clock.Since(l.cachedAt) < l.CacheTTL {
		return *l.cached
	}

	loc, err := l.detect(ctx)
	if err != nil {
		log.Printf("[site] location lookup failed: %v", err)
		return LocationData{Formatted: NotDetected}
	}
	l.cached = &loc
	l.cachedAt = l.Clock.Now()
	return loc
}

// Refresh drops the cached lookup and resolves the location again.
func (l *Locator) Refresh(ctx context.Context) LocationData {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
	return l.Lookup(ctx)
}

func (l *Locator) detect(ctx context.Context) (LocationData, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	var resp ipAPIResponse
	if err := httputil.GetJSON(ctx, l.Client, l.URL, &resp); err != nil {
		return LocationData{}, err
	}
	if resp.Status != "success" {
		return LocationData{}, fmt.Errorf("lookup refused: %s", resp.Message)
	}

	loc := LocationData{
		City:           resp.City,
		Region:         resp.RegionName,
		Country:        resp.Country,
		PublicIP:       resp.Query,
		IsAutoDetected: true,
	}
	if ll := s2.LatLngFromDegrees(resp.Lat, resp.Lon); ll.IsValid() {
		loc.Latitude, loc.Longitude = resp.Lat, resp.Lon
		loc.HasCoordinates = true
	}
	loc.Formatted = Format(loc)
	return loc, nil
}

// Format renders "City, Region, Country (Lat: x, Lon: y)", skipping empty
// parts.
func Format(loc LocationData) string {
	s := ""
	for _, part := range []string{loc.City, loc.Region, loc.Country} {
		if part == "" {
			continue
		}
		if s != "" {
			s += ", "
		}
		s += part
	}
	if loc.HasCoordinates {
		coords := fmt.Sprintf("(Lat: %.4f, Lon: %.4f)", loc.Latitude, loc.Longitude)
		if s == "" {
			return coords
		}
		return s + " " + coords
	}
	if s == "" {
		return NotDetected
	}
	return s
}
