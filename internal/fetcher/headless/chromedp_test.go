package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	b, err := NewChromedp(Config{MaxParallel: 2}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, cap(b.limiter))
	require.Equal(t, DefaultTorProxy, b.cfg.TorProxy)
	require.Equal(t, defaultSettleDelay, b.cfg.SettleDelay)
}

func TestNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	b := &Browser{}
	require.Equal(t, 45*time.Second, b.navTimeout())
	b.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, b.navTimeout())
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	b, err := NewChromedp(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, b.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.acquire(ctx), context.DeadlineExceeded)

	b.release()
	require.NoError(t, b.acquire(context.Background()))
}

func TestOpenFailsWhenCanceled(t *testing.T) {
	t.Parallel()

	b, err := NewChromedp(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, b.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Open(ctx, harvest.BrowserOptions{Headless: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAllocatorOptionsCount(t *testing.T) {
	t.Parallel()

	b, err := NewChromedp(Config{UserAgent: "ua", ExecPath: "/usr/bin/chromium"}, nil)
	require.NoError(t, err)
	plain := b.allocatorOptions(harvest.BrowserOptions{Headless: true})
	tor := b.allocatorOptions(harvest.BrowserOptions{Headless: true, UseTor: true})
	require.Len(t, tor, len(plain)+1)
}

func TestResponseMetaCaptureResetAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 204, status)
	require.Equal(t, "https://example.com/rendered", url)

	meta.reset()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", url)
}

func TestCheckStatusRejectsErrorDocuments(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkStatus("https://hotel.al/contact", http.StatusOK))
	require.NoError(t, checkStatus("https://hotel.al/contact", http.StatusNoContent))
	require.ErrorIs(t, checkStatus("https://hotel.al/missing", http.StatusNotFound), harvest.ErrTransientFetch)
	require.ErrorIs(t, checkStatus("https://hotel.al/down", http.StatusServiceUnavailable), harvest.ErrTransientFetch)

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://hotel.al/missing"},
	})
	status, url := meta.snapshotWithFallbacks("https://hotel.al/missing", "")
	require.ErrorIs(t, checkStatus(url, status), harvest.ErrTransientFetch)
}
