package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages}
}

func (f *fakeFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return harvest.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if body == "!error" {
		return harvest.FetchResponse{}, fmt.Errorf("dial %s: %w", req.URL, harvest.ErrTransientFetch)
	}
	return harvest.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) fetched(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}
