// Package directory enumerates businesses around a location through a
// Places-style directory API and stores them as leads.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

// Default endpoints and limits.
const (
	DefaultPlacesBaseURL    = "https://maps.googleapis.com"
	DefaultPlacesNewBaseURL = "https://places.googleapis.com"
	DefaultGeocoderBaseURL  = "https://nominatim.openstreetmap.org"
	DefaultPageDelay        = 2 * time.Second
	DefaultDetailsRPS       = 10
	DefaultRadius           = 300
	DefaultPlaceType        = "lodging"
	DefaultMaxPlaces        = 20
)

// Config configures a Client.
type Config struct {
	APIKey           string
	PlacesBaseURL    string
	PlacesNewBaseURL string
	GeocoderBaseURL  string
	UserAgent        string
	// PageDelay is the wait before requesting a next page token.
	PageDelay   time.Duration
	DetailsRPS  float64
	HTTPTimeout time.Duration
}

// Client runs directory scrapes.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	leads          harvest.LeadStore
	detailsLimiter *rate.Limiter
	logger         *zap.Logger
}

// New builds a Client. A negative PageDelay disables the wait between pages.
func New(cfg Config, leads harvest.LeadStore, logger *zap.Logger) *Client {
	if cfg.PlacesBaseURL == "" {
		cfg.PlacesBaseURL = DefaultPlacesBaseURL
	}
	if cfg.PlacesNewBaseURL == "" {
		cfg.PlacesNewBaseURL = DefaultPlacesNewBaseURL
	}
	if cfg.GeocoderBaseURL == "" {
		cfg.GeocoderBaseURL = DefaultGeocoderBaseURL
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = DefaultPageDelay
	}
	if cfg.DetailsRPS <= 0 {
		cfg.DetailsRPS = DefaultDetailsRPS
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		leads:          leads,
		detailsLimiter: rate.NewLimiter(rate.Limit(cfg.DetailsRPS), 1),
		logger:         logger,
	}
}

// Run describes one directory scrape.
type Run struct {
	JobID    string
	Params   harvest.DirectoryParams
	Stop     harvest.StopSignal
	Progress harvest.ProgressReporter
	// OnLead, when set, receives every lead written by this run.
	OnLead func(lead harvest.Lead)
}

// Result summarizes a finished scrape.
type Result struct {
	Stored  int
	Failed  int
	Skipped int
}

// WithDefaults fills unset directory parameters.
func WithDefaults(p harvest.DirectoryParams) harvest.DirectoryParams {
	if p.Radius == 0 {
		p.Radius = DefaultRadius
	}
	if strings.TrimSpace(p.PlaceType) == "" {
		p.PlaceType = DefaultPlaceType
	}
	if p.MaxPlaces == 0 {
		p.MaxPlaces = DefaultMaxPlaces
	}
	if p.Mode == "" {
		p.Mode = harvest.SearchModeNearby
	}
	return p
}

// Scrape resolves candidates for run, sets total_rows to their count and
// stores one lead per place id not already known.
func (c *Client) Scrape(ctx context.Context, run Run) (Result, error) {
	run.Params = WithDefaults(run.Params)
	if err := run.Params.Validate(); err != nil {
		return Result{}, err
	}
	if c.cfg.APIKey == "" {
		return Result{}, fmt.Errorf("directory api key is not configured: %w", harvest.ErrFatalWorker)
	}
	logger := c.logger.With(zap.String("job_id", run.JobID))

	var (
		candidates []candidate
		err        error
	)
	switch run.Params.Mode {
	case harvest.SearchModeText:
		candidates, err = c.textCandidates(ctx, run)
	default:
		var at LatLng
		at, err = c.Geocode(ctx, run.Params.Location)
		if err != nil {
			return Result{}, err
		}
		logger.Info("location geocoded",
			zap.String("location", run.Params.Location),
			zap.Float64("lat", at.Lat),
			zap.Float64("lng", at.Lng),
		)
		candidates, err = c.nearbyCandidates(ctx, run, at)
	}
	if err != nil {
		return Result{}, err
	}

	if run.Progress != nil {
		if err := run.Progress.SetTotal(ctx, len(candidates)); err != nil {
			return Result{}, fmt.Errorf("report total: %w", err)
		}
	}
	logger.Info("directory candidates ready", zap.Int("places", len(candidates)), zap.String("mode", string(run.Params.Mode)))

	var result Result
	for i, cand := range candidates {
		if run.Stop != nil && run.Stop.StopRequested(ctx) {
			logger.Info("stop requested", zap.Int("current_row", i))
			return result, fmt.Errorf("directory scrape stopped after %d places: %w", i, harvest.ErrCancelled)
		}
		if err := c.processPlace(ctx, logger, run, cand, &result); err != nil {
			return result, err
		}
		if run.Progress != nil {
			if err := run.Progress.Advance(ctx, i+1); err != nil {
				return result, fmt.Errorf("report progress: %w", err)
			}
		}
	}
	logger.Info("directory scrape finished",
		zap.Int("stored", result.Stored),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (c *Client) processPlace(ctx context.Context, logger *zap.Logger, run Run, cand candidate, result *Result) error {
	exists, err := c.leads.HasPlace(ctx, cand.placeID)
	if err != nil {
		return fmt.Errorf("check place %s: %w", cand.placeID, err)
	}
	if exists {
		result.Skipped++
		return nil
	}

	lead := harvest.Lead{
		JobID:    run.JobID,
		PlaceID:  cand.placeID,
		Location: run.Params.Location,
	}
	if run.Params.Mode == harvest.SearchModeText {
		lead.Location = fmt.Sprintf("%s:%s", run.Params.PlaceType, run.Params.Location)
	}

	details := cand.details
	if details == nil {
		fetched, err := c.details(ctx, cand.placeID)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("details %s: %w", cand.placeID, ctx.Err())
			}
			logger.Warn("place details failed", zap.String("place_id", cand.placeID), zap.Error(err))
		} else {
			details = &fetched
		}
	}
	if details != nil {
		lead.Name = details.Name
		lead.Address = details.FormattedAddress
		lead.Phone = details.InternationalPhoneNumber
		lead.Website = harvest.BaseURL(details.Website)
		lead.Status = harvest.LeadStatusScraped
	} else {
		lead.Status = harvest.LeadStatusFailed
	}

	stored, err := c.leads.InsertLead(ctx, lead)
	if errors.Is(err, harvest.ErrDuplicate) {
		result.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("store lead %s: %w", cand.placeID, err)
	}
	metrics.ObserveLeadStored(string(stored.Status))
	if stored.Status == harvest.LeadStatusFailed {
		result.Failed++
	} else {
		result.Stored++
	}
	if run.OnLead != nil {
		run.OnLead(stored)
	}
	return nil
}
