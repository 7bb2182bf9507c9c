package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

const (
	defaultDiscoveryRetries = 3
	defaultDiscoveryBackoff = 250 * time.Millisecond
	allowAllRobots          = "User-agent: *\nAllow: /"
)

// discoveryTransport retries the documents sitemap discovery depends on
// (robots.txt and *.xml sitemaps) when the connection times out. A robots.txt
// that never answers is replaced by an allow-all body; sitemaps surface the
// last error.
type discoveryTransport struct {
	base    http.RoundTripper
	retries int
	// backoff doubles after every failed attempt.
	backoff time.Duration

	robotsFallback atomic.Bool
}

func newDiscoveryTransport(base http.RoundTripper) *discoveryTransport {
	return &discoveryTransport{
		base:    base,
		retries: defaultDiscoveryRetries,
		backoff: defaultDiscoveryBackoff,
	}
}

// fellBack reports whether a robots.txt request was answered synthetically.
func (t *discoveryTransport) fellBack() bool {
	return t != nil && t.robotsFallback.Load()
}

func (t *discoveryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("discovery transport received nil request")
	}
	if !isDiscoveryDocument(req.URL.Path) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("page roundtrip: %w", err)
		}
		return resp, nil
	}

	delay := t.backoff
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			if err := wait(req.Context(), delay); err != nil {
				return nil, fmt.Errorf("discovery retry %s: %w", req.URL.Path, err)
			}
			delay *= 2
		}
		resp, err := t.base.RoundTrip(retryClone(req))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("discovery roundtrip %s: %w", req.URL.Path, err)
		}
		lastErr = err
	}

	if isRobotsPath(req.URL.Path) {
		if t.robotsFallback.CompareAndSwap(false, true) {
			metrics.ObserveRobotsTLSHandshakeTimeout()
		}
		return &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
			ContentLength: int64(len(allowAllRobots)),
			Header:        http.Header{"Content-Type": {"text/plain"}},
			Request:       req,
		}, nil
	}
	return nil, fmt.Errorf("discovery roundtrip %s after %d attempts: %w", req.URL.Path, t.retries+1, lastErr)
}

func isRobotsPath(p string) bool {
	return strings.EqualFold(p, "/robots.txt")
}

func isDiscoveryDocument(p string) bool {
	return isRobotsPath(p) || strings.EqualFold(path.Ext(p), ".xml")
}

func retryClone(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTimeout matches dial, handshake and deadline timeouts.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}
