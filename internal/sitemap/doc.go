// Package sitemap builds a site's page inventory from robots.txt Sitemap
// directives, the well-known sitemap locations, XML sitemap indexes and HTML
// sitemap tables.
package sitemap
