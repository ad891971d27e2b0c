package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/ppiankov/kbpublish/internal/model"
)

// ErrNoGeocode is returned when an address has no geocoding result
var ErrNoGeocode = errors.New("geocode: no result")

// Geocoder turns a postal address into coordinates
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lng float64, err error)
}

// MapsGeocoder geocodes through the Google Maps Geocoding API
type MapsGeocoder struct {
	client *maps.Client
}

// NewMapsGeocoder creates a geocoder for the given API key. Extra options
// (e.g. maps.WithBaseURL) are passed to the Maps client.
func NewMapsGeocoder(apiKey string, opts ...maps.ClientOption) (*MapsGeocoder, error) {
	if apiKey == "" {
		return nil, errors.New("geocode: no API key configured")
	}
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &MapsGeocoder{client: client}, nil
}

// Geocode returns the coordinates of the best match for address
func (g *MapsGeocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return 0, 0, ErrNoGeocode
	}
	loc := results[0].Geometry.Location
	return loc.Lat, loc.Lng, nil
}

// geocodeAddress picks the most precise address available for a subject
func geocodeAddress(subject model.BusinessSubject, crawl *model.CrawlData) string {
	if crawl != nil && strings.TrimSpace(crawl.Address) != "" {
		return strings.TrimSpace(crawl.Address)
	}
	loc := subject.Location
	if loc == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{loc.City, loc.State, loc.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
