// Package headless drives a Chrome instance through chromedp so that pages
// are rendered with JavaScript before emails are extracted.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
	// DefaultTorProxy is the local Tor SOCKS listener.
	DefaultTorProxy = "socks5://127.0.0.1:9050"
)

// Config controls the behavior of the chromedp browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	TorProxy          string
	ExecPath          string
}

// Browser implements harvest.Browser. Each session owns its own Chrome
// process so headless and proxy flags can differ per job.
type Browser struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// NewChromedp creates a Browser backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.TorProxy == "" {
		cfg.TorProxy = DefaultTorProxy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Browser{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Open starts a Chrome process and its first tab. The session holds one
// MaxParallel slot until Close.
func (b *Browser) Open(ctx context.Context, opts harvest.BrowserOptions) (harvest.BrowserSession, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		browser:     b,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		meta:        &responseMeta{},
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	// The first Run launches the browser process.
	startCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx, b.networkSetupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.logger.Debug("browser session opened", zap.Bool("headless", opts.Headless), zap.Bool("tor", opts.UseTor))
	return s, nil
}

func (b *Browser) allocatorOptions(opts harvest.BrowserOptions) []chromedp.ExecAllocatorOption {
	options := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.Headless {
		options = append(options, chromedp.Flag("headless", "new"))
	} else {
		options = append(options, chromedp.Flag("headless", false))
	}
	if opts.UseTor {
		options = append(options, chromedp.ProxyServer(b.cfg.TorProxy))
	}
	if b.cfg.UserAgent != "" {
		options = append(options, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.ExecPath != "" {
		options = append(options, chromedp.ExecPath(b.cfg.ExecPath))
	}
	return options
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

type session struct {
	browser     *Browser
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	meta        *responseMeta
	closeOnce   sync.Once
}

// Visit navigates the session tab and returns the rendered DOM.
func (s *session) Visit(ctx context.Context, url string) (harvest.Page, error) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.browser.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.meta.reset()
	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.browser.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return harvest.Page{}, fmt.Errorf("visit %s: %w", url, ctx.Err())
		}
		return harvest.Page{}, fmt.Errorf("visit %s: %w: %w", url, harvest.ErrTransientFetch, err)
	}

	status, responseURL := s.meta.snapshotWithFallbacks(url, finalURL)
	if err := checkStatus(url, status); err != nil {
		return harvest.Page{}, err
	}
	return harvest.Page{
		URL:        responseURL,
		StatusCode: status,
		HTML:       html,
		Duration:   time.Since(start),
	}, nil
}

// Close shuts the tab and the Chrome process and frees the slot.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		s.browser.release()
	})
}

// checkStatus rejects error documents so their bodies are not scraped.
func checkStatus(url string, status int) error {
	if status >= http.StatusBadRequest {
		return fmt.Errorf("visit %s: status %d: %w", url, status, harvest.ErrTransientFetch)
	}
	return nil
}

// responseMeta records the status and URL of the last document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// snapshotWithFallbacks fills a missing URL from the tab location or the
// request, and a missing status with 200.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
