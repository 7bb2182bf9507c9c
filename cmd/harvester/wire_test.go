package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/engine"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

func init() {
	metrics.Init()
}

type hitLog struct {
	mu    sync.Mutex
	paths []string
}

func (h *hitLog) record(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths = append(h.paths, path)
}

func (h *hitLog) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...)
}

func TestAnonymizingRunNeverContactsSiteDirectly(t *testing.T) {
	t.Parallel()

	direct := &hitLog{}
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		direct.record(r.URL.Path)
		http.NotFound(w, r)
	}))
	t.Cleanup(target.Close)

	proxied := &hitLog{}
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.record(r.URL.Path)
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>%s/contact</loc></url></urlset>`, target.URL)
		case "/contact":
			fmt.Fprint(w, `<html><body><a href="mailto:owner@hotel.al">mail</a></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(proxy.Close)

	var cfg config.Config
	cfg.Browser.Driver = "http"
	cfg.Browser.TorProxy = proxy.URL
	cfg.Browser.NavTimeoutSeconds = 5
	cfg.HTTP.TimeoutSeconds = 5
	cfg.Crawler.UserAgent = "harvester-test"
	cfg.Crawler.RespectRobots = true

	logger := zap.NewNop()
	browser, err := openBrowser(cfg, logger)
	require.NoError(t, err)
	crawler, err := newEngine(cfg, browser, logger)
	require.NoError(t, err)

	emails, err := crawler.Crawl(context.Background(), engine.Run{
		JobID:  "job-1",
		Params: harvest.EmailParams{URL: target.URL, MaxPages: 5, UseTor: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"owner@hotel.al"}, emails)
	require.Empty(t, direct.list())
	require.Contains(t, proxied.list(), "/robots.txt")
	require.Contains(t, proxied.list(), "/contact")
}
