// Package extract pulls email addresses out of rendered HTML.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9_.+\-]+@[a-zA-Z0-9\-]+(?:\.[a-zA-Z0-9\-]+)*\.[a-zA-Z]{2,}`)

var placeholderDomains = []string{
	"example.com",
	"example.org",
	"example.net",
	"test.com",
	"domain.com",
	"email.com",
	"yourdomain.com",
	"sentry.io",
	"sentry-next.wixpress.com",
	"sentry.wixpress.com",
}

var staticSuffixes = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js",
}

// FromHTML returns the addresses found in the visible text and mailto links
// of an HTML document, lowercased, filtered and deduplicated in order of
// appearance.
func FromHTML(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	set := NewSet()
	for _, addr := range emailRegex.FindAllString(doc.Find("body").Text(), -1) {
		set.Add(addr)
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if addr := fromMailto(href); addr != "" {
			set.Add(addr)
		}
	})
	return set.List(), nil
}

// fromMailto returns the address of a mailto link, matching the scheme in
// any case, or "" for other links.
func fromMailto(href string) string {
	const scheme = "mailto:"
	href = strings.TrimSpace(href)
	if len(href) < len(scheme) || !strings.EqualFold(href[:len(scheme)], scheme) {
		return ""
	}
	addr := href[len(scheme):]
	addr, _, _ = strings.Cut(addr, "?")
	if decoded, err := url.PathUnescape(addr); err == nil {
		addr = decoded
	}
	addr = strings.TrimSpace(addr)
	if emailRegex.FindString(addr) != addr {
		return ""
	}
	return addr
}

// Valid reports whether addr survives the placeholder and static-asset
// filters. addr is expected lowercased.
func Valid(addr string) bool {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	for _, suffix := range staticSuffixes {
		if strings.HasSuffix(addr, suffix) {
			return false
		}
	}
	domain := addr[at+1:]
	for _, d := range placeholderDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return false
		}
	}
	return true
}

// Set accumulates valid, lowercased addresses in first-seen order.
// It is not safe for concurrent use.
type Set struct {
	seen  map[string]struct{}
	order []string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add records addr and reports whether it was new and valid.
func (s *Set) Add(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !Valid(addr) {
		return false
	}
	if _, ok := s.seen[addr]; ok {
		return false
	}
	s.seen[addr] = struct{}{}
	s.order = append(s.order, addr)
	return true
}

// Len returns the number of collected addresses.
func (s *Set) Len() int {
	return len(s.order)
}

// List returns a copy of the collected addresses.
func (s *Set) List() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
