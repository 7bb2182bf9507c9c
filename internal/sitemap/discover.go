package sitemap

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	defaultMaxDepth = 2
	defaultFanout   = 10
	minDocumentLen  = 10

	webkitViewerID = "webkit-xml-viewer-source-xml"
)

// WellKnownPaths are tried on every site in addition to robots.txt entries.
var WellKnownPaths = []string{"/sitemap_index.xml", "/sitemap.xml", "/sitemapindex.xml"}

const (
	xpathIndex    = "/*[local-name()='sitemapindex']"
	xpathIndexLoc = "./*[local-name()='sitemap']/*[local-name()='loc']"
	xpathURLSet   = "/*[local-name()='urlset']"
	xpathURLLoc   = "./*[local-name()='url']/*[local-name()='loc']"
)

// Config bounds sitemap recursion.
type Config struct {
	// MaxDepth is the deepest index level followed; the root sitemap is depth 0.
	MaxDepth int
	// Fanout caps the child sitemaps followed per index.
	Fanout int
}

// Discoverer collects page URLs for a site.
type Discoverer struct {
	fetchers Fetchers
	robots   *Robots
	cfg     Config
	logger  *zap.Logger
}

// NewDiscoverer wires a Discoverer. A nil robots skips robots.txt entirely.
func NewDiscoverer(fetchers Fetchers, robots *Robots, cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = defaultFanout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetchers: fetchers, robots: robots, cfg: cfg, logger: logger}
}

// Discover returns every page URL reachable through the site's sitemaps in
// discovery order. The result may contain duplicates and off-site URLs.
// With useTor every request goes through the proxy fetcher.
func (d *Discoverer) Discover(ctx context.Context, jobID, baseURL string, useTor bool) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("base url %q: %w", baseURL, harvest.ErrInvalidInput)
	}
	fetcher, err := d.fetchers.pick(useTor)
	if err != nil {
		return nil, err
	}

	var roots []string
	if d.robots != nil {
		roots = append(roots, d.robots.Sitemaps(ctx, jobID, baseURL, useTor)...)
	}
	for _, p := range WellKnownPaths {
		roots = append(roots, base.ResolveReference(&url.URL{Path: p}).String())
	}
	d.logger.Debug("sitemap roots", zap.String("job_id", jobID), zap.Strings("roots", roots))

	visited := make(map[string]struct{})
	var pages []string
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return pages, fmt.Errorf("discover sitemaps: %w", err)
		}
		pages = append(pages, d.collect(ctx, fetcher, jobID, root, 0, visited)...)
	}
	d.logger.Info("sitemap discovery finished",
		zap.String("job_id", jobID),
		zap.Int("sitemaps", len(visited)),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

func (d *Discoverer) collect(ctx context.Context, fetcher harvest.Fetcher, jobID, sitemapURL string, depth int, visited map[string]struct{}) []string {
	if depth > d.cfg.MaxDepth {
		d.logger.Debug("sitemap depth limit reached", zap.String("job_id", jobID), zap.String("sitemap", sitemapURL))
		return nil
	}
	if _, seen := visited[sitemapURL]; seen {
		return nil
	}
	visited[sitemapURL] = struct{}{}

	resp, err := fetcher.Fetch(ctx, harvest.FetchRequest{JobID: jobID, URL: sitemapURL})
	if err != nil {
		d.logger.Debug("sitemap fetch failed", zap.String("job_id", jobID), zap.String("sitemap", sitemapURL), zap.Error(err))
		return nil
	}
	if resp.StatusCode >= 400 {
		return nil
	}
	content := strings.TrimSpace(string(resp.Body))
	if len(content) < minDocumentLen {
		return nil
	}

	if looksLikeHTML(content) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err != nil {
			return nil
		}
		if viewer := doc.Find("div#" + webkitViewerID); viewer.Length() > 0 {
			inner, err := viewer.First().Html()
			if err != nil {
				return nil
			}
			xmlDoc, err := xmlquery.Parse(strings.NewReader(inner))
			if err != nil {
				d.logger.Debug("embedded sitemap xml unparsable", zap.String("job_id", jobID), zap.String("sitemap", sitemapURL))
				return nil
			}
			return d.fromXML(ctx, fetcher, jobID, xmlDoc, depth, visited)
		}
		return d.fromHTML(ctx, fetcher, jobID, sitemapURL, doc, depth, visited)
	}

	xmlDoc, err := xmlquery.Parse(strings.NewReader(content))
	if err != nil {
		doc, herr := goquery.NewDocumentFromReader(strings.NewReader(content))
		if herr != nil {
			return nil
		}
		return d.fromHTML(ctx, fetcher, jobID, sitemapURL, doc, depth, visited)
	}
	return d.fromXML(ctx, fetcher, jobID, xmlDoc, depth, visited)
}

func (d *Discoverer) fromXML(ctx context.Context, fetcher harvest.Fetcher, jobID string, doc *xmlquery.Node, depth int, visited map[string]struct{}) []string {
	var pages []string
	if index := xmlquery.FindOne(doc, xpathIndex); index != nil {
		followed := 0
		for _, loc := range xmlquery.Find(index, xpathIndexLoc) {
			if followed >= d.cfg.Fanout {
				break
			}
			child := strings.TrimSpace(loc.InnerText())
			if child == "" {
				continue
			}
			followed++
			pages = append(pages, d.collect(ctx, fetcher, jobID, child, depth+1, visited)...)
		}
		return pages
	}
	if set := xmlquery.FindOne(doc, xpathURLSet); set != nil {
		for _, loc := range xmlquery.Find(set, xpathURLLoc) {
			if page := strings.TrimSpace(loc.InnerText()); page != "" {
				pages = append(pages, page)
			}
		}
	}
	return pages
}

// fromHTML reads a rendered sitemap table: table#sitemap, a table inside
// div#content, or the first table carrying links. Rows ending in .xml are
// treated as child sitemaps.
func (d *Discoverer) fromHTML(ctx context.Context, fetcher harvest.Fetcher, jobID, sitemapURL string, doc *goquery.Document, depth int, visited map[string]struct{}) []string {
	base, err := url.Parse(sitemapURL)
	if err != nil {
		return nil
	}
	table := pickTable(doc)
	if table == nil {
		d.logger.Debug("no sitemap table found", zap.String("job_id", jobID), zap.String("sitemap", sitemapURL))
		return nil
	}

	var pages, children []string
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if strings.HasSuffix(strings.ToLower(ref.Path), ".xml") {
			children = append(children, abs)
			return
		}
		pages = append(pages, abs)
	})

	if len(children) > d.cfg.Fanout {
		children = children[:d.cfg.Fanout]
	}
	for _, child := range children {
		pages = append(pages, d.collect(ctx, fetcher, jobID, child, depth+1, visited)...)
	}
	return pages
}

func pickTable(doc *goquery.Document) *goquery.Selection {
	var picked *goquery.Selection
	tables := doc.Find("table")
	tables.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if id, _ := s.Attr("id"); id == "sitemap" {
			picked = s
			return false
		}
		if s.ParentsFiltered("div#content").Length() > 0 {
			picked = s
			return false
		}
		return true
	})
	if picked != nil {
		return picked
	}
	tables.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("a[href]").Length() > 0 {
			picked = s
			return false
		}
		return true
	})
	return picked
}

func looksLikeHTML(content string) bool {
	head := strings.ToLower(content[:min(len(content), 64)])
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}
