package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	nearbyPath     = "/maps/api/place/nearbysearch/json"
	detailsPath    = "/maps/api/place/details/json"
	textSearchPath = "/v1/places:searchText"

	detailsFields   = "name,formatted_address,international_phone_number,website"
	textSearchMask  = "places.id,places.displayName,places.formattedAddress,places.internationalPhoneNumber,places.websiteUri,nextPageToken"
	maxTextPageSize = 20

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

// nearbyCandidates pages through Nearby Search until limit unique ids are
// collected or no next_page_token remains.
func (c *Client) nearbyCandidates(ctx context.Context, run Run, at LatLng) ([]candidate, error) {
	params := run.Params
	query := url.Values{
		"location": {fmt.Sprintf("%f,%f", at.Lat, at.Lng)},
		"radius":   {strconv.Itoa(params.Radius)},
		"type":     {params.PlaceType},
		"key":      {c.cfg.APIKey},
	}
	seen := make(map[string]struct{})
	var out []candidate
	for page := 1; ; page++ {
		target, err := endpointURL(c.cfg.PlacesBaseURL, nearbyPath, query)
		if err != nil {
			return nil, fmt.Errorf("nearby search: %w: %w", harvest.ErrFatalWorker, err)
		}
		var resp nearbySearchResponse
		if err := c.doJSON(ctx, "nearby_search", http.MethodGet, target, nil, nil, &resp); err != nil {
			return nil, fmt.Errorf("nearby search page %d: %w: %w", page, harvest.ErrFatalWorker, err)
		}
		if resp.Status != statusOK && resp.Status != statusZeroResults {
			return nil, fmt.Errorf("nearby search status %s: %s: %w", resp.Status, resp.ErrorMessage, harvest.ErrFatalWorker)
		}
		for _, r := range resp.Results {
			if r.PlaceID == "" {
				continue
			}
			if _, dup := seen[r.PlaceID]; dup {
				continue
			}
			seen[r.PlaceID] = struct{}{}
			out = append(out, candidate{placeID: r.PlaceID})
		}
		c.logger.Debug("nearby search page",
			zap.String("job_id", run.JobID),
			zap.Int("page", page),
			zap.Int("results", len(resp.Results)),
			zap.Int("unique", len(out)),
		)
		if len(out) >= params.MaxPlaces || resp.NextPageToken == "" {
			break
		}
		if err := c.beforeNextPage(ctx, run); err != nil {
			return nil, err
		}
		query = url.Values{"pagetoken": {resp.NextPageToken}, "key": {c.cfg.APIKey}}
	}
	if len(out) > params.MaxPlaces {
		out = out[:params.MaxPlaces]
	}
	return out, nil
}

// textCandidates pages through Text Search (New). Each place already carries
// its contact fields, so no details call is needed later.
func (c *Client) textCandidates(ctx context.Context, run Run) ([]candidate, error) {
	params := run.Params
	body := textSearchRequest{
		TextQuery:    fmt.Sprintf("%s in %s", params.PlaceType, params.Location),
		IncludedType: params.PlaceType,
	}
	header := http.Header{
		"X-Goog-Api-Key":   {c.cfg.APIKey},
		"X-Goog-FieldMask": {textSearchMask},
	}
	target, err := endpointURL(c.cfg.PlacesNewBaseURL, textSearchPath, nil)
	if err != nil {
		return nil, fmt.Errorf("text search: %w: %w", harvest.ErrFatalWorker, err)
	}
	seen := make(map[string]struct{})
	var out []candidate
	for page := 1; ; page++ {
		body.PageSize = min(maxTextPageSize, params.MaxPlaces-len(out))
		var resp textSearchResponse
		if err := c.doJSON(ctx, "text_search", http.MethodPost, target, header, body, &resp); err != nil {
			return nil, fmt.Errorf("text search page %d: %w: %w", page, harvest.ErrFatalWorker, err)
		}
		for _, p := range resp.Places {
			if p.ID == "" {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, candidate{placeID: p.ID, details: p.details()})
		}
		if len(out) >= params.MaxPlaces || resp.NextPageToken == "" {
			break
		}
		if err := c.beforeNextPage(ctx, run); err != nil {
			return nil, err
		}
		body.PageToken = resp.NextPageToken
	}
	if len(out) > params.MaxPlaces {
		out = out[:params.MaxPlaces]
	}
	return out, nil
}

// beforeNextPage waits for a page token to become valid and re-checks the
// stop flag.
func (c *Client) beforeNextPage(ctx context.Context, run Run) error {
	if err := sleepWithContext(ctx, c.cfg.PageDelay); err != nil {
		return err
	}
	if run.Stop != nil && run.Stop.StopRequested(ctx) {
		return fmt.Errorf("stopped while paging: %w", harvest.ErrCancelled)
	}
	return nil
}

// details fetches the contact fields of one place through the details
// rate limiter. Failures are harvest.ErrTransientFetch.
func (c *Client) details(ctx context.Context, placeID string) (placeDetails, error) {
	if err := c.detailsLimiter.Wait(ctx); err != nil {
		return placeDetails{}, fmt.Errorf("details rate limit: %w", err)
	}
	target, err := endpointURL(c.cfg.PlacesBaseURL, detailsPath, url.Values{
		"place_id": {placeID},
		"fields":   {detailsFields},
		"key":      {c.cfg.APIKey},
	})
	if err != nil {
		return placeDetails{}, fmt.Errorf("details %s: %w: %w", placeID, harvest.ErrTransientFetch, err)
	}
	var resp detailsResponse
	if err := c.doJSON(ctx, "details", http.MethodGet, target, nil, nil, &resp); err != nil {
		return placeDetails{}, fmt.Errorf("details %s: %w: %w", placeID, harvest.ErrTransientFetch, err)
	}
	if resp.Status != statusOK {
		return placeDetails{}, fmt.Errorf("details %s status %s: %s: %w", placeID, resp.Status, resp.ErrorMessage, harvest.ErrTransientFetch)
	}
	return resp.Result, nil
}
