// Package priority orders candidate URLs so that contact-style pages are
// visited first when the page budget is smaller than the inventory.
package priority

import (
	"net/url"
	"slices"
	"strings"
)

// Keywords are the path fragments that mark a likely contact page.
var Keywords = []string{
	"/contact",
	"/contact-us",
	"/contactus",
	"/contacts",
	"/whoweare",
	"/who-we-are",
	"/who_we_are",
	"/aboutus",
	"/about",
	"/about-us",
	"/about_us",
	"/team",
	"/support",
	"/impressum",
}

const (
	keywordWeight = 10.0
	shortURLLen   = 100
)

type scored struct {
	url   string
	score float64
}

// Rank deduplicates urls, keeping first occurrences, and returns them sorted
// by descending Score. Equal scores keep their discovery order.
func Rank(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	items := make([]scored, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		items = append(items, scored{url: u, score: Score(u)})
	}
	slices.SortStableFunc(items, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.url
	}
	return out
}

// Score awards keywordWeight per keyword found in the lowercased path plus a
// bonus that favours short URLs.
func Score(raw string) float64 {
	path := strings.ToLower(pathOf(raw))
	var score float64
	for _, kw := range Keywords {
		if strings.Contains(path, kw) {
			score += keywordWeight
		}
	}
	if n := len(raw); n < shortURLLen {
		score += float64(shortURLLen-n) / 10
	}
	return score
}

// pathOf strips scheme and host so domain names never match a keyword.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Path
}
