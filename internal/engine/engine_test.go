package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

const site = "https://hotel.al"

type fakeDiscoverer struct {
	urls []string
	err  error
}

func (f fakeDiscoverer) Discover(context.Context, string, string, bool) ([]string, error) {
	return f.urls, f.err
}

type fakeBrowser struct {
	mu      sync.Mutex
	pages   map[string]string
	failing map[string]bool
	visited []string
	openErr error
	opened  []harvest.BrowserOptions
	closed  int
	onVisit func(n int)
}

func (b *fakeBrowser) Open(_ context.Context, opts harvest.BrowserOptions) (harvest.BrowserSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened = append(b.opened, opts)
	return &fakeSession{b: b}, nil
}

type fakeSession struct{ b *fakeBrowser }

func (s *fakeSession) Visit(_ context.Context, url string) (harvest.Page, error) {
	s.b.mu.Lock()
	s.b.visited = append(s.b.visited, url)
	n := len(s.b.visited)
	hook := s.b.onVisit
	fail := s.b.failing[url]
	html := s.b.pages[url]
	s.b.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if fail {
		return harvest.Page{}, fmt.Errorf("navigate: %w", harvest.ErrTransientFetch)
	}
	return harvest.Page{URL: url, StatusCode: 200, HTML: html}, nil
}

func (s *fakeSession) Close() {
	s.b.mu.Lock()
	s.b.closed++
	s.b.mu.Unlock()
}

type fakeProgress struct {
	mu      sync.Mutex
	total   *int
	updates []int
}

func (p *fakeProgress) SetTotal(_ context.Context, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = &total
	return nil
}

func (p *fakeProgress) Advance(_ context.Context, current int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, current)
	return nil
}

func (p *fakeProgress) last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return 0
	}
	return p.updates[len(p.updates)-1]
}

type flagStop struct{ raised atomic.Bool }

func (s *flagStop) StopRequested(context.Context) bool { return s.raised.Load() }

type denyRobots struct{ denied string }

func (d denyRobots) Allowed(_ context.Context, _ string, url string, _ bool) bool { return url != d.denied }

type countingPacer struct {
	calls atomic.Int32
	err   error
}

func (p *countingPacer) Wait(context.Context, string) error {
	p.calls.Add(1)
	return p.err
}

// routedDiscoverer and routedRobots record which network each lookup used.
type routedDiscoverer struct {
	urls   []string
	direct atomic.Int32
	tor    atomic.Int32
}

func (d *routedDiscoverer) Discover(_ context.Context, _, _ string, useTor bool) ([]string, error) {
	if useTor {
		d.tor.Add(1)
	} else {
		d.direct.Add(1)
	}
	return d.urls, nil
}

type routedRobots struct {
	direct atomic.Int32
	tor    atomic.Int32
}

func (r *routedRobots) Allowed(_ context.Context, _, _ string, useTor bool) bool {
	if useTor {
		r.tor.Add(1)
	} else {
		r.direct.Add(1)
	}
	return true
}

func tenPages() []string {
	urls := make([]string, 0, 10)
	for i := range 10 {
		urls = append(urls, fmt.Sprintf("%s/page-%d", site, i))
	}
	return urls
}

func TestCrawlHonoursPageBudget(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{pages: map[string]string{}}
	progress := &fakeProgress{}
	e := New(fakeDiscoverer{urls: tenPages()}, browser, zap.NewNop())

	emails, err := e.Crawl(context.Background(), Run{
		JobID:    "job-1",
		Params:   harvest.EmailParams{URL: "hotel.al", MaxPages: 3, Headless: true},
		Progress: progress,
	})
	require.NoError(t, err)
	require.Empty(t, emails)
	require.Len(t, browser.visited, 3)
	require.Equal(t, 3, *progress.total)
	require.Equal(t, []int{1, 2, 3}, progress.updates)
	require.Equal(t, 1, browser.closed)
	require.Equal(t, []harvest.BrowserOptions{{Headless: true}}, browser.opened)
}

func TestCrawlRanksFiltersAndCollectsEmails(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{
		pages: map[string]string{
			site + "/contact-us":     `<p>Write to Reception@Hotel.al</p><a href="mailto:owner@hotel.al">x</a>`,
			"https://www.hotel.al/a": `<p>reception@hotel.al logo@2x.png</p>`,
		},
		failing: map[string]bool{site + "/broken": true},
	}
	var streamed []string
	e := New(fakeDiscoverer{urls: []string{
		"https://www.hotel.al/a",
		"https://other.al/contact",
		"mailto:x@hotel.al",
		site + "/broken",
		site + "/contact-us",
		site + "/contact-us",
	}}, browser, zap.NewNop())

	emails, err := e.Crawl(context.Background(), Run{
		JobID:   "job-1",
		Params:  harvest.EmailParams{URL: site, MaxPages: 10},
		OnEmail: func(addr string) { streamed = append(streamed, addr) },
	})
	require.NoError(t, err)
	require.Equal(t, site+"/contact-us", browser.visited[0], "contact page visited first")
	require.NotContains(t, browser.visited, "https://other.al/contact")
	require.Len(t, browser.visited, 3)
	require.Equal(t, []string{"reception@hotel.al", "owner@hotel.al"}, emails)
	require.Equal(t, emails, streamed)
}

func TestCrawlEmptyInventoryCompletesWithZeroTotal(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{}
	progress := &fakeProgress{}
	e := New(fakeDiscoverer{}, browser, zap.NewNop())

	emails, err := e.Crawl(context.Background(), Run{
		JobID:    "job-1",
		Params:   harvest.EmailParams{URL: site, MaxPages: 10},
		Progress: progress,
	})
	require.NoError(t, err)
	require.Empty(t, emails)
	require.NotNil(t, progress.total)
	require.Zero(t, *progress.total)
	require.Empty(t, browser.opened, "no browser for an empty inventory")
}

func TestCrawlStopBeforeFirstPage(t *testing.T) {
	t.Parallel()
	metrics.Init()

	stop := &flagStop{}
	stop.raised.Store(true)
	browser := &fakeBrowser{}
	progress := &fakeProgress{}
	e := New(fakeDiscoverer{urls: tenPages()}, browser, zap.NewNop())

	_, err := e.Crawl(context.Background(), Run{
		JobID:    "job-1",
		Params:   harvest.EmailParams{URL: site, MaxPages: 5},
		Stop:     stop,
		Progress: progress,
	})
	require.ErrorIs(t, err, harvest.ErrCancelled)
	require.Empty(t, browser.visited)
	require.Zero(t, progress.last())
	require.Equal(t, 1, browser.closed)
}

func TestCrawlStopMidway(t *testing.T) {
	t.Parallel()
	metrics.Init()

	stop := &flagStop{}
	browser := &fakeBrowser{onVisit: func(n int) {
		if n == 2 {
			stop.raised.Store(true)
		}
	}}
	progress := &fakeProgress{}
	e := New(fakeDiscoverer{urls: tenPages()}, browser, zap.NewNop())

	_, err := e.Crawl(context.Background(), Run{
		JobID:    "job-1",
		Params:   harvest.EmailParams{URL: site, MaxPages: 10},
		Stop:     stop,
		Progress: progress,
	})
	require.ErrorIs(t, err, harvest.ErrCancelled)
	require.Len(t, browser.visited, 2)
	require.Equal(t, []int{1, 2}, progress.updates)
}

func TestCrawlBrowserOpenFailureIsFatal(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{openErr: errors.New("chrome not found")}
	e := New(fakeDiscoverer{urls: tenPages()}, browser, zap.NewNop())

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 2}})
	require.ErrorIs(t, err, harvest.ErrFatalWorker)
}

func TestCrawlRobotsAndPacer(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{}
	pacer := &countingPacer{}
	progress := &fakeProgress{}
	urls := []string{site + "/a", site + "/b"}
	e := New(fakeDiscoverer{urls: urls}, browser, zap.NewNop(),
		WithRobots(denyRobots{denied: site + "/a"}),
		WithPacer(pacer),
	)

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 5}, Progress: progress})
	require.NoError(t, err)
	require.Equal(t, []string{site + "/b"}, browser.visited)
	require.EqualValues(t, 1, pacer.calls.Load())
	require.Equal(t, 1, *progress.total, "disallowed pages are not planned")
	require.Equal(t, []int{1}, progress.updates)
}

func TestCrawlDisallowedPagesDoNotSpendBudget(t *testing.T) {
	t.Parallel()
	metrics.Init()

	urls := []string{site + "/contact"}
	for i := range 9 {
		urls = append(urls, fmt.Sprintf("%s/p%d", site, i))
	}
	browser := &fakeBrowser{}
	progress := &fakeProgress{}
	e := New(fakeDiscoverer{urls: urls}, browser, zap.NewNop(),
		WithRobots(denyRobots{denied: site + "/contact"}),
	)

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 3}, Progress: progress})
	require.NoError(t, err)
	require.Len(t, browser.visited, 3)
	require.NotContains(t, browser.visited, site+"/contact")
	require.Equal(t, 3, *progress.total)
	require.Equal(t, []int{1, 2, 3}, progress.updates)
}

func TestCrawlPacerFailureEndsCrawlWithoutAdvancing(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{}
	progress := &fakeProgress{}
	pacer := &countingPacer{err: context.DeadlineExceeded}
	e := New(fakeDiscoverer{urls: tenPages()}, browser, zap.NewNop(), WithPacer(pacer))

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 3}, Progress: progress})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, browser.visited)
	require.Empty(t, progress.updates)
}

func TestCrawlAnonymizingNetworkRoutesDiscoveryAndRobots(t *testing.T) {
	t.Parallel()
	metrics.Init()

	discoverer := &routedDiscoverer{urls: []string{site + "/contact", site + "/rooms"}}
	robots := &routedRobots{}
	browser := &fakeBrowser{}
	e := New(discoverer, browser, zap.NewNop(), WithRobots(robots))

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 5, UseTor: true}})
	require.NoError(t, err)
	require.Zero(t, discoverer.direct.Load())
	require.Zero(t, robots.direct.Load())
	require.EqualValues(t, 1, discoverer.tor.Load())
	require.EqualValues(t, 2, robots.tor.Load())
	require.Equal(t, []harvest.BrowserOptions{{UseTor: true}}, browser.opened)
}

func TestCrawlDedupesURLSpellings(t *testing.T) {
	t.Parallel()
	metrics.Init()

	browser := &fakeBrowser{}
	e := New(fakeDiscoverer{urls: []string{
		site + "/contact",
		"HTTPS://Hotel.al:443/contact#form",
		site + "/rooms?b=2&a=1",
		site + "/rooms?a=1&b=2",
	}}, browser, zap.NewNop())

	_, err := e.Crawl(context.Background(), Run{JobID: "job-1", Params: harvest.EmailParams{URL: site, MaxPages: 10}})
	require.NoError(t, err)
	require.Equal(t, []string{site + "/contact", site + "/rooms?a=1&b=2"}, browser.visited)
}

func TestCrawlRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	e := New(fakeDiscoverer{}, &fakeBrowser{}, nil)
	_, err := e.Crawl(context.Background(), Run{Params: harvest.EmailParams{URL: "  "}})
	require.ErrorIs(t, err, harvest.ErrInvalidInput)
}
