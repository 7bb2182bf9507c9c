package collyfetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Browser serves harvest.Browser sessions over plain HTTP. It suits sites
// whose contact details are present without running JavaScript.
type Browser struct {
	direct harvest.Fetcher
	tor    harvest.Fetcher
}

// NewBrowser wraps two fetchers: direct for normal sessions and tor for
// sessions that ask for the anonymizing network. tor may be nil.
func NewBrowser(direct, tor harvest.Fetcher) *Browser {
	return &Browser{direct: direct, tor: tor}
}

// Open implements harvest.Browser. The Headless flag has no effect.
func (b *Browser) Open(_ context.Context, opts harvest.BrowserOptions) (harvest.BrowserSession, error) {
	fetcher := b.direct
	if opts.UseTor {
		if b.tor == nil {
			return nil, fmt.Errorf("anonymizing network requested but no proxy fetcher configured: %w", harvest.ErrFatalWorker)
		}
		fetcher = b.tor
	}
	if fetcher == nil {
		return nil, fmt.Errorf("http session has no fetcher: %w", harvest.ErrFatalWorker)
	}
	return &httpSession{fetcher: fetcher}, nil
}

type httpSession struct {
	fetcher harvest.Fetcher
}

func (s *httpSession) Visit(ctx context.Context, target string) (harvest.Page, error) {
	resp, err := s.fetcher.Fetch(ctx, harvest.FetchRequest{URL: target})
	if err != nil {
		return harvest.Page{}, fmt.Errorf("visit %s: %w", target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return harvest.Page{}, fmt.Errorf("visit %s: status %d: %w", target, resp.StatusCode, harvest.ErrTransientFetch)
	}
	return harvest.Page{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		HTML:       string(resp.Body),
		Duration:   resp.Duration,
	}, nil
}

func (s *httpSession) Close() {}
