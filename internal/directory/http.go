package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

const maxErrorBody = 512

// doJSON performs a request and decodes a 200 response into out. The
// endpoint label feeds metrics; the logged URL never carries the API key.
func (c *Client) doJSON(ctx context.Context, endpoint, method string, target *url.URL, header http.Header, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	c.logger.Debug("directory request", zap.String("endpoint", endpoint), zap.String("url", redact(target)))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveDirectoryCall(endpoint, "transport_error", time.Since(start))
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close directory response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveDirectoryCall(endpoint, http.StatusText(resp.StatusCode), time.Since(start))
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveDirectoryCall(endpoint, "decode_error", time.Since(start))
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	metrics.ObserveDirectoryCall(endpoint, "ok", time.Since(start))
	return nil
}

func redact(u *url.URL) string {
	clone := *u
	q := clone.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		clone.RawQuery = q.Encode()
	}
	return clone.String()
}

func endpointURL(base, path string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", base, err)
	}
	u = u.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("page delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
