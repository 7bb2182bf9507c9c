package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Fetchers pairs the direct document fetcher with an optional one routed
// through the anonymizing network.
type Fetchers struct {
	Direct harvest.Fetcher
	Tor    harvest.Fetcher
}

func (f Fetchers) pick(useTor bool) (harvest.Fetcher, error) {
	if useTor {
		if f.Tor == nil {
			return nil, fmt.Errorf("anonymizing network requested but no proxy fetcher configured: %w", harvest.ErrFatalWorker)
		}
		return f.Tor, nil
	}
	if f.Direct == nil {
		return nil, fmt.Errorf("no document fetcher configured: %w", harvest.ErrFatalWorker)
	}
	return f.Direct, nil
}

// Robots caches robots.txt per host and answers Sitemap and Allow queries.
type Robots struct {
	fetchers  Fetchers
	cache     sync.Map
	respect   bool
	userAgent string
	logger    *zap.Logger
}

// NewRobots builds a Robots reader. When respect is false Allowed always
// returns true, but Sitemap directives are still honoured.
func NewRobots(fetchers Fetchers, userAgent string, respect bool, logger *zap.Logger) *Robots {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Robots{
		fetchers:  fetchers,
		respect:   respect,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Sitemaps returns the absolute http(s) Sitemap URLs listed for the host of
// baseURL. Fetch or parse failures yield an empty list.
func (r *Robots) Sitemaps(ctx context.Context, jobID, baseURL string, useTor bool) []string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	data, err := r.load(ctx, jobID, parsed, useTor)
	if err != nil {
		r.logger.Info("robots.txt unavailable", zap.String("job_id", jobID), zap.String("host", parsed.Host), zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(data.Sitemaps))
	for _, raw := range data.Sitemaps {
		candidate := strings.TrimSpace(raw)
		if !validSitemapURL(candidate) {
			r.logger.Warn("ignoring invalid sitemap directive", zap.String("job_id", jobID), zap.String("sitemap", candidate))
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// Allowed reports whether rawURL may be visited. A run on the anonymizing
// network with no proxy fetcher is refused rather than checked directly.
func (r *Robots) Allowed(ctx context.Context, jobID, rawURL string, useTor bool) bool {
	if r == nil || !r.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, jobID, parsed, useTor)
	if errors.Is(err, harvest.ErrFatalWorker) {
		r.logger.Warn("robots check refused", zap.String("host", parsed.Host), zap.Error(err))
		return false
	}
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.EscapedPath())
}

func (r *Robots) load(ctx context.Context, jobID string, parsed *url.URL, useTor bool) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	fetcher, err := r.fetchers.pick(useTor)
	if err != nil {
		return nil, err
	}
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	resp, err := fetcher.Fetch(ctx, harvest.FetchRequest{JobID: jobID, URL: robotsURL.String()})
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

func validSitemapURL(raw string) bool {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return !strings.ContainsAny(raw, `<>'"`)
}
