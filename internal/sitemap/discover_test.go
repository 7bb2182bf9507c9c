package sitemap

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const site = "https://hotel.al"

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc> %s </loc></url>", loc)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func index(children ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<!-- generated -->\n")
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, c := range children {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", c)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func newTestDiscoverer(f *fakeFetcher, cfg Config) *Discoverer {
	return NewDiscoverer(Fetchers{Direct: f}, NewRobots(Fetchers{Direct: f}, "harvester-test", true, zap.NewNop()), cfg, zap.NewNop())
}

func TestDiscoverRobotsAndWellKnown(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		site + "/robots.txt": "User-agent: *\nDisallow: /private\nSitemap: https://hotel.al/pages.xml\nSitemap: javascript:alert(1)\n",
		site + "/pages.xml":  urlset(site+"/rooms", site+"/contact"),
		site + "/sitemap.xml": index(
			site+"/post-sitemap.xml",
		),
		site + "/post-sitemap.xml": urlset(site + "/blog/1"),
	})
	d := newTestDiscoverer(f, Config{})

	pages, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Equal(t, []string{site + "/rooms", site + "/contact", site + "/blog/1"}, pages)
	require.Equal(t, 1, f.fetched(site+"/sitemap_index.xml"))
	require.Equal(t, 1, f.fetched(site+"/sitemapindex.xml"))
}

func TestDiscoverRespectsDepthAndVisited(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		site + "/sitemap.xml": index(site+"/a.xml", site+"/sitemap.xml"),
		site + "/a.xml":       index(site + "/b.xml"),
		site + "/b.xml":       index(site + "/c.xml"),
		site + "/c.xml":       urlset(site + "/too-deep"),
	})
	d := newTestDiscoverer(f, Config{MaxDepth: 2})

	pages, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Empty(t, pages)
	require.Equal(t, 1, f.fetched(site+"/sitemap.xml"))
	require.Equal(t, 1, f.fetched(site+"/b.xml"))
	require.Zero(t, f.fetched(site+"/c.xml"))
}

func TestDiscoverFanoutLimit(t *testing.T) {
	t.Parallel()

	pages := map[string]string{}
	var children []string
	for i := range 5 {
		child := fmt.Sprintf("%s/part-%d.xml", site, i)
		children = append(children, child)
		pages[child] = urlset(fmt.Sprintf("%s/page-%d", site, i))
	}
	pages[site+"/sitemap.xml"] = index(children...)
	f := newFakeFetcher(pages)
	d := newTestDiscoverer(f, Config{Fanout: 2})

	got, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Equal(t, []string{site + "/page-0", site + "/page-1"}, got)
}

func TestDiscoverHTMLSitemapTable(t *testing.T) {
	t.Parallel()

	html := `<!DOCTYPE html><html><body>
<table class="nav"><tr><td>no links</td></tr></table>
<div id="content"><table>
  <tr><th>URL</th></tr>
  <tr><td><a href="/page-sitemap.xml">Pages</a></td></tr>
  <tr><td><a href="https://hotel.al/about-us">About</a></td></tr>
</table></div>
</body></html>`
	f := newFakeFetcher(map[string]string{
		site + "/sitemap_index.xml": html,
		site + "/page-sitemap.xml":  urlset(site + "/contact"),
	})
	d := newTestDiscoverer(f, Config{})

	got, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Equal(t, []string{site + "/about-us", site + "/contact"}, got)
}

func TestDiscoverEmbeddedViewerXML(t *testing.T) {
	t.Parallel()

	html := `<!DOCTYPE html><html><body><div id="webkit-xml-viewer-source-xml">` +
		`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>https://hotel.al/team</loc></url></urlset>` +
		`</div></body></html>`
	f := newFakeFetcher(map[string]string{site + "/sitemap.xml": html})
	d := newTestDiscoverer(f, Config{})

	got, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Equal(t, []string{site + "/team"}, got)
}

func TestDiscoverFetchErrorsAreSkipped(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		site + "/robots.txt":  "!error",
		site + "/sitemap.xml": "!error",
	})
	d := newTestDiscoverer(f, Config{})

	got, err := d.Discover(context.Background(), "job-1", site, false)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDiscoverRejectsBadBase(t *testing.T) {
	t.Parallel()

	d := newTestDiscoverer(newFakeFetcher(nil), Config{})
	_, err := d.Discover(context.Background(), "job-1", "not a url", false)
	require.ErrorIs(t, err, harvest.ErrInvalidInput)
}

func TestDiscoverOverAnonymizingNetworkSkipsDirectFetcher(t *testing.T) {
	t.Parallel()

	direct := newFakeFetcher(nil)
	tor := newFakeFetcher(map[string]string{
		site + "/robots.txt":  "Sitemap: https://hotel.al/pages.xml\n",
		site + "/pages.xml":   urlset(site + "/contact"),
		site + "/sitemap.xml": urlset(site + "/rooms"),
	})
	fetchers := Fetchers{Direct: direct, Tor: tor}
	robots := NewRobots(fetchers, "harvester-test", true, zap.NewNop())
	d := NewDiscoverer(fetchers, robots, Config{}, zap.NewNop())

	got, err := d.Discover(context.Background(), "job-1", site, true)
	require.NoError(t, err)
	require.Equal(t, []string{site + "/contact", site + "/rooms"}, got)
	require.True(t, robots.Allowed(context.Background(), "job-1", site+"/contact", true))
	require.Empty(t, direct.calls)
	require.Equal(t, 1, tor.fetched(site+"/robots.txt"))
}

func TestDiscoverAnonymizingNetworkWithoutProxyIsFatal(t *testing.T) {
	t.Parallel()

	direct := newFakeFetcher(nil)
	fetchers := Fetchers{Direct: direct}
	robots := NewRobots(fetchers, "harvester-test", true, zap.NewNop())
	d := NewDiscoverer(fetchers, robots, Config{}, zap.NewNop())

	_, err := d.Discover(context.Background(), "job-1", site, true)
	require.ErrorIs(t, err, harvest.ErrFatalWorker)
	require.False(t, robots.Allowed(context.Background(), "job-1", site+"/contact", true))
	require.Empty(t, direct.calls)
}
