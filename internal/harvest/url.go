package harvest

import (
	"fmt"
	"net/url"
	"strings"
)

var nonBusinessDomains = []string{
	"airbnb.co.uk",
	"airbnb.co.za",
	"airbnb.com",
	"airbnb.mx",
	"airbnb.net",
	"airbnbmail.com",
	"booking.com",
	"facebook.com",
	"instagram.com",
	"jscache.com",
	"linkedin.com",
	"muscache.com",
	"pinterest.com",
	"snapchat.com",
	"tacdn.com",
	"tamgrt.com",
	"tiktok.com",
	"tripadvisor.cn",
	"tripadvisor.co.uk",
	"tripadvisor.com",
	"tripadvisor.de",
	"twitter.com",
	"x.com",
	"youtube.com",
}

// EnsureScheme prefixes https:// when raw has no http(s) scheme.
func EnsureScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// NormalizeURL canonicalizes a page URL so spellings that differ only in
// case, default port, fragment or query order compare equal.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Host = strings.ToLower(u.Host)
	if p := u.Port(); (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
		u.Host = strings.TrimSuffix(u.Host, ":"+p)
	}
	u.Fragment, u.RawFragment = "", ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

// SiteKey returns the lowercased host without a leading "www.".
func SiteKey(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// SameSite reports whether candidate is served by the same site as base.
func SameSite(base, candidate string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil || c.Host == "" {
		return false
	}
	return SiteKey(b.Host) == SiteKey(c.Host)
}

// BaseURL reduces a website to scheme://host, lowercased. It returns an empty
// string for unparsable input and for hosts on the non-business list.
func BaseURL(raw string) string {
	raw = EnsureScheme(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if IsNonBusinessDomain(u.Hostname()) {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// IsNonBusinessDomain reports whether host is a social network, booking
// portal, or CDN rather than a business's own site.
func IsNonBusinessDomain(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, d := range nonBusinessDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
