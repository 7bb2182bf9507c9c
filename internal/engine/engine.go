// Package engine crawls a single site for email addresses. It builds the
// page inventory from sitemaps, keeps same-site URLs, ranks them so contact
// pages come first and visits at most the page budget through one browser
// session, reporting progress after every page.
package engine

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/priority"
)

// Discoverer lists candidate page URLs for a site. useTor routes every
// discovery request through the anonymizing network.
type Discoverer interface {
	Discover(ctx context.Context, jobID, baseURL string, useTor bool) ([]string, error)
}

// Pacer blocks until the next request to a site may proceed.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// RobotsPolicy decides whether a page may be visited.
type RobotsPolicy interface {
	Allowed(ctx context.Context, jobID, rawURL string, useTor bool) bool
}

// Engine runs crawls. It is safe for concurrent use; each Crawl opens its own
// browser session.
type Engine struct {
	discoverer Discoverer
	browser    harvest.Browser
	pacer      Pacer
	robots     RobotsPolicy
	logger     *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPacer paces page visits per site.
func WithPacer(p Pacer) Option {
	return func(e *Engine) { e.pacer = p }
}

// WithRobots drops pages disallowed by robots.txt before the page budget is
// applied.
func WithRobots(r RobotsPolicy) Option {
	return func(e *Engine) { e.robots = r }
}

// New wires an Engine.
func New(discoverer Discoverer, browser harvest.Browser, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{discoverer: discoverer, browser: browser, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run describes one crawl.
type Run struct {
	JobID    string
	Params   harvest.EmailParams
	Stop     harvest.StopSignal
	Progress harvest.ProgressReporter
	// OnEmail, when set, receives each new address as soon as it is found.
	OnEmail func(email string)
}

// Crawl executes run and returns the addresses found, lowercased and
// deduplicated. A stop request yields the partial result with
// harvest.ErrCancelled. Individual page failures are logged and skipped.
func (e *Engine) Crawl(ctx context.Context, run Run) ([]string, error) {
	logger := e.logger.With(zap.String("job_id", run.JobID))
	base := harvest.EnsureScheme(run.Params.URL)
	if base == "" {
		return nil, fmt.Errorf("crawl url is empty: %w", harvest.ErrInvalidInput)
	}

	discovered, err := e.discoverer.Discover(ctx, run.JobID, base, run.Params.UseTor)
	if err != nil {
		return nil, fmt.Errorf("discover pages: %w", err)
	}
	planned := e.plan(ctx, logger, run, priority.Rank(sameSite(base, discovered)))
	if err := report(ctx, run.Progress, func(p harvest.ProgressReporter) error {
		return p.SetTotal(ctx, len(planned))
	}); err != nil {
		return nil, err
	}
	logger.Info("crawl inventory ready",
		zap.String("url", base),
		zap.Int("discovered", len(discovered)),
		zap.Int("planned", len(planned)),
	)
	if len(planned) == 0 {
		return []string{}, nil
	}

	session, err := e.browser.Open(ctx, harvest.BrowserOptions{
		Headless: run.Params.Headless,
		UseTor:   run.Params.UseTor,
	})
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w: %w", harvest.ErrFatalWorker, err)
	}
	defer session.Close()

	found := extract.NewSet()
	for i, pageURL := range planned {
		if stopRequested(ctx, run.Stop) {
			logger.Info("stop requested", zap.Int("current_row", i))
			return found.List(), fmt.Errorf("crawl stopped after %d pages: %w", i, harvest.ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return found.List(), fmt.Errorf("crawl interrupted: %w", err)
		}
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx, pageURL); err != nil {
				return found.List(), fmt.Errorf("crawl interrupted after %d pages: %w", i, err)
			}
		}
		e.visit(ctx, logger, session, run, pageURL, found)
		if err := report(ctx, run.Progress, func(p harvest.ProgressReporter) error {
			return p.Advance(ctx, i+1)
		}); err != nil {
			return found.List(), err
		}
	}
	logger.Info("crawl finished", zap.Int("pages", len(planned)), zap.Int("emails", found.Len()))
	return found.List(), nil
}

// plan drops pages robots.txt disallows and cuts the rest to the page
// budget, so every planned page is one visit.
func (e *Engine) plan(ctx context.Context, logger *zap.Logger, run Run, ranked []string) []string {
	budget := run.Params.MaxPages
	out := make([]string, 0, len(ranked))
	for _, pageURL := range ranked {
		if budget > 0 && len(out) == budget {
			break
		}
		if e.robots != nil && !e.robots.Allowed(ctx, run.JobID, pageURL, run.Params.UseTor) {
			logger.Debug("page disallowed by robots.txt", zap.String("url", pageURL))
			metrics.ObservePage(pageURL, "disallowed")
			continue
		}
		out = append(out, pageURL)
	}
	return out
}

func (e *Engine) visit(
	ctx context.Context,
	logger *zap.Logger,
	session harvest.BrowserSession,
	run Run,
	pageURL string,
	found *extract.Set,
) {
	page, err := session.Visit(ctx, pageURL)
	if err != nil {
		logger.Warn("page visit failed", zap.String("url", pageURL), zap.Error(err))
		metrics.ObservePage(pageURL, "error")
		return
	}
	emails, err := extract.FromHTML(page.HTML)
	if err != nil {
		logger.Warn("page parse failed", zap.String("url", pageURL), zap.Error(err))
		metrics.ObservePage(pageURL, "error")
		return
	}
	metrics.ObservePage(pageURL, "ok")
	for _, addr := range emails {
		if found.Add(addr) && run.OnEmail != nil {
			run.OnEmail(addr)
		}
	}
}

// report forwards a progress write and treats a terminal record as a stop.
func report(ctx context.Context, p harvest.ProgressReporter, fn func(harvest.ProgressReporter) error) error {
	if p == nil {
		return nil
	}
	if err := fn(p); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("report progress: %w", ctx.Err())
		}
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

func stopRequested(ctx context.Context, s harvest.StopSignal) bool {
	return s != nil && s.StopRequested(ctx)
}

// sameSite keeps the http(s) URLs served by the site of base, normalized so
// trivially different spellings dedupe when ranked.
func sameSite(base string, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, err := harvest.NormalizeURL(raw)
		if err != nil {
			continue
		}
		u, err := url.Parse(normalized)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if harvest.SameSite(base, normalized) {
			out = append(out, normalized)
		}
	}
	return out
}
