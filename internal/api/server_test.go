package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/enrich"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/orchestrator"
)

func init() {
	metrics.Init()
}

type fakeService struct {
	mu          sync.Mutex
	submitted   []harvest.JobParameters
	kinds       []harvest.JobKind
	submitErr   error
	syncParams  harvest.EmailParams
	views       map[string]harvest.JobView
	stopped     []string
	leads       map[string][]harvest.Lead
	filter      harvest.JobFilter
	backfill    enrich.Params
	backfillErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		views: map[string]harvest.JobView{},
		leads: map[string][]harvest.Lead{},
	}
}

func (f *fakeService) Submit(_ context.Context, kind harvest.JobKind, params harvest.JobParameters) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.kinds = append(f.kinds, kind)
	f.submitted = append(f.submitted, params)
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeService) ScrapeEmails(_ context.Context, params harvest.EmailParams) (orchestrator.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncParams = params
	return orchestrator.SyncResult{
		JobID:  "job-sync",
		Input:  params.URL,
		Emails: []string{"info@hotel.al"},
		Status: harvest.JobStatusCompleted,
	}, nil
}

func (f *fakeService) Progress(_ context.Context, jobID string) (harvest.JobView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.views[jobID]
	if !ok {
		return harvest.JobView{}, fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	return view, nil
}

func (f *fakeService) Stop(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.views[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	f.stopped = append(f.stopped, jobID)
	return nil
}

func (f *fakeService) Jobs(_ context.Context, filter harvest.JobFilter) ([]harvest.JobView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	out := make([]harvest.JobView, 0, len(f.views))
	for _, v := range f.views {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeService) Leads(_ context.Context, jobID string) ([]harvest.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.views[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	return f.leads[jobID], nil
}

func (f *fakeService) Backfill(_ context.Context, params enrich.Params) (enrich.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfill = params
	if f.backfillErr != nil {
		return enrich.Report{}, f.backfillErr
	}
	return enrich.Report{Processed: 1, Enriched: 1, Results: []enrich.LeadResult{{LeadID: 7, Status: enrich.StatusScraped}}}, nil
}

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{MaxPagesDefault: 10, BackfillMaxPages: 30},
		Browser: config.BrowserConfig{HeadlessDefault: true},
		Directory: config.DirectoryConfig{
			RadiusDefault:    300,
			PlaceTypeDefault: "lodging",
			MaxPlacesDefault: 20,
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitEmailJobAsync(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/email", `{"url":"hotel.al"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, map[string]any{"job_id": "job-1", "input": "https://hotel.al", "status": "started"}, decode(t, rec))
	require.Equal(t, []harvest.JobKind{harvest.KindEmailScrape}, svc.kinds)
	require.Equal(t, harvest.EmailParams{URL: "https://hotel.al", MaxPages: 10, Headless: true}, *svc.submitted[0].Email)
}

func TestSubmitEmailJobSync(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/email",
		`{"url":"https://hotel.al","max_pages":3,"use_anonymizing_network":true,"headless":false,"sync":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "job-sync", body["job_id"])
	require.Equal(t, []any{"info@hotel.al"}, body["emails"])
	require.Equal(t, "completed", body["status"])
	require.Equal(t, harvest.EmailParams{URL: "https://hotel.al", MaxPages: 3, UseTor: true}, svc.syncParams)
}

func TestSubmitDirectoryJobDefaults(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/directory", `{"location":"Sarande"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "Sarande", decode(t, rec)["input"])
	require.Equal(t, harvest.DirectoryParams{Location: "Sarande", Radius: 300, PlaceType: "lodging", MaxPlaces: 20},
		*svc.submitted[0].Directory)
}

func TestSubmitInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := NewServer(newFakeService(), testConfig(), zap.NewNop())
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/directory", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "invalid JSON")
}

func TestServiceErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{err: fmt.Errorf("url is required: %w", harvest.ErrInvalidInput), status: http.StatusBadRequest, msg: "url is required: invalid input"},
		{err: fmt.Errorf("queue full: %w", harvest.ErrBusy), status: http.StatusServiceUnavailable, msg: "queue full: worker pool busy"},
		{err: errors.New("connection reset by peer"), status: http.StatusInternalServerError, msg: "internal error"},
	}
	for _, tc := range cases {
		svc := newFakeService()
		svc.submitErr = tc.err
		srv := NewServer(svc, testConfig(), zap.NewNop())
		rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/email", `{"url":"hotel.al"}`)
		require.Equal(t, tc.status, rec.Code)
		require.Equal(t, tc.msg, decode(t, rec)["error"])
	}
}

func TestProgressAndStop(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	total := 10
	svc.views["job-1"] = harvest.JobView{
		JobID:      "job-1",
		StepID:     "email_scrape",
		Input:      "https://hotel.al",
		MaxPages:   10,
		Headless:   true,
		CurrentRow: 4,
		TotalRows:  &total,
		Status:     harvest.JobStatusRunning,
	}
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/jobs/job-1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "email_scrape", body["step_id"])
	require.EqualValues(t, 4, body["current_row"])
	require.EqualValues(t, 10, body["total_rows"])
	require.Equal(t, "running", body["status"])
	require.Equal(t, "", body["error_message"])
	require.Equal(t, false, body["use_anonymizing_network"])

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"job_id": "job-1", "status": "stopped"}, decode(t, rec))
	require.Equal(t, []string{"job-1"}, svc.stopped)

	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/v1/jobs/nope/progress", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodPost, "/v1/jobs/nope/stop", "").Code)
}

func TestLeadsAndJobs(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.views["job-dir"] = harvest.JobView{JobID: "job-dir", StepID: "google_maps_scrape"}
	svc.leads["job-dir"] = []harvest.Lead{{ID: 1, JobID: "job-dir", PlaceID: "p1", Name: "Hotel Butrinti"}}
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/jobs/job-dir/leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Hotel Butrinti")

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/jobs?kind=google_maps_scrape&status=completed&limit=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, harvest.JobFilter{Kind: harvest.KindDirectoryScrape, Status: harvest.JobStatusCompleted, Limit: maxJobLimit}, svc.filter)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/jobs?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackfillDefaults(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := NewServer(svc, testConfig(), zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/leads/backfill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, enrich.Params{MaxPages: 30, Headless: true}, svc.backfill)
	body := decode(t, rec)
	require.EqualValues(t, 1, body["enriched"])

	svc.backfillErr = fmt.Errorf("backfill: %w", harvest.ErrFatalWorker)
	rec = do(t, srv.Handler(), http.MethodPost, "/v1/leads/backfill", `{"max_pages":5}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 5, svc.backfill.MaxPages)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	svc := newFakeService()
	srv := NewServer(svc, cfg, zap.NewNop())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/jobs/email", `{"url":"hotel.al"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/email", bytes.NewBufferString(`{"url":"hotel.al"}`))
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusAccepted, ok.Code)

	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/healthz", "").Code)
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(newFakeService(), testConfig(), zap.NewNop())
	rec := do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")

	failing := NewServer(newFakeService(), testConfig(), zap.NewNop(), func(context.Context) error {
		return errors.New("db down")
	})
	require.Equal(t, http.StatusServiceUnavailable, do(t, failing.Handler(), http.MethodGet, "/readyz", "").Code)
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	t.Parallel()

	h := requestIDMiddleware(recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	require.Equal(t, "internal error", decode(t, rec)["error"])
}
