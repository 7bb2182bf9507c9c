package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Geocode resolves a free-form location through a Nominatim-compatible
// /search endpoint. An empty result is harvest.ErrInvalidInput; any
// transport or decoding failure is harvest.ErrFatalWorker.
func (c *Client) Geocode(ctx context.Context, location string) (LatLng, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return LatLng{}, fmt.Errorf("location is empty: %w", harvest.ErrInvalidInput)
	}
	target, err := endpointURL(c.cfg.GeocoderBaseURL, "/search", url.Values{
		"format": {"json"},
		"limit":  {"1"},
		"q":      {location},
	})
	if err != nil {
		return LatLng{}, fmt.Errorf("geocode: %w: %w", harvest.ErrFatalWorker, err)
	}
	var results []nominatimResult
	if err := c.doJSON(ctx, "geocode", http.MethodGet, target, nil, nil, &results); err != nil {
		return LatLng{}, fmt.Errorf("geocode %q: %w: %w", location, harvest.ErrFatalWorker, err)
	}
	if len(results) == 0 {
		return LatLng{}, fmt.Errorf("location %q not found: %w", location, harvest.ErrInvalidInput)
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("geocode %q latitude: %w: %w", location, harvest.ErrFatalWorker, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("geocode %q longitude: %w: %w", location, harvest.ErrFatalWorker, err)
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}
