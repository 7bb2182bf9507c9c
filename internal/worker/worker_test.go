package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/directory"
	"github.com/JakeFAU/contact-harvester/internal/engine"
	"github.com/JakeFAU/contact-harvester/internal/events"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	queuemem "github.com/JakeFAU/contact-harvester/internal/queue/memory"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

type fakeEmails struct {
	calls  atomic.Int32
	emails []string
	pages  int
	err    error
	panic  bool
}

func (f *fakeEmails) Crawl(ctx context.Context, run engine.Run) ([]string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if err := run.Progress.SetTotal(ctx, f.pages); err != nil {
		return nil, err
	}
	for i := 1; i <= f.pages; i++ {
		if err := run.Progress.Advance(ctx, i); err != nil {
			return nil, err
		}
	}
	for _, e := range f.emails {
		run.OnEmail(e)
	}
	return f.emails, f.err
}

type fakePlaces struct {
	leads []harvest.Lead
	err   error
}

func (f *fakePlaces) Scrape(ctx context.Context, run directory.Run) (directory.Result, error) {
	if err := run.Progress.SetTotal(ctx, len(f.leads)); err != nil {
		return directory.Result{}, err
	}
	for i, lead := range f.leads {
		lead.JobID = run.JobID
		run.OnLead(lead)
		if err := run.Progress.Advance(ctx, i+1); err != nil {
			return directory.Result{}, err
		}
	}
	return directory.Result{Stored: len(f.leads)}, f.err
}

type stopSignal bool

func (s stopSignal) StopRequested(context.Context) bool { return bool(s) }

type fakeTokens struct {
	mu       sync.Mutex
	released []string
	stopped  map[string]bool
}

func (f *fakeTokens) Signal(jobID string) harvest.StopSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return stopSignal(f.stopped[jobID])
}

func (f *fakeTokens) Release(_ context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, jobID)
}

func (f *fakeTokens) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	jobs    *memory.JobStore
	blobs   *memory.BlobStore
	tokens  *fakeTokens
	emitter *recordingEmitter
	queue   *queuemem.Queue
	worker  *Worker
}

func newFixture(t *testing.T, emails EmailRunner, places DirectoryRunner) *fixture {
	t.Helper()
	clock := newClock()
	f := &fixture{
		jobs:    memory.NewJobStore(clock),
		blobs:   memory.NewBlobStore(),
		tokens:  &fakeTokens{stopped: map[string]bool{}},
		emitter: &recordingEmitter{},
		queue:   queuemem.NewQueue(4),
	}
	f.worker = New(f.queue, f.jobs, emails, places, f.tokens, f.blobs, f.emitter, clock,
		Config{ArtifactPrefix: "/results/"}, zap.NewNop())
	return f
}

func (f *fixture) create(t *testing.T, id string, kind harvest.JobKind, params harvest.JobParameters) harvest.QueueItem {
	t.Helper()
	require.NoError(t, f.jobs.CreateJob(context.Background(), harvest.Job{
		ID:     id,
		Kind:   kind,
		Input:  params.Input(),
		Params: params,
		Status: harvest.JobStatusRunning,
	}))
	return harvest.QueueItem{JobID: id, Kind: kind, Params: params}
}

func emailParams() harvest.JobParameters {
	return harvest.JobParameters{Email: &harvest.EmailParams{URL: "https://hotel.al", MaxPages: 5, Headless: true}}
}

func TestExecuteEmailJobCompletes(t *testing.T) {
	t.Parallel()

	runner := &fakeEmails{emails: []string{"info@hotel.al", "desk@hotel.al"}, pages: 3}
	f := newFixture(t, runner, nil)
	item := f.create(t, "job-1", harvest.KindEmailScrape, emailParams())

	out := f.worker.Execute(context.Background(), item, stopSignal(false))

	require.NoError(t, out.Err)
	require.Equal(t, harvest.JobStatusCompleted, out.Status)
	require.Equal(t, []string{"info@hotel.al", "desk@hotel.al"}, out.Emails)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.CurrentRow)
	require.Equal(t, 3, *job.TotalRows)
	require.Equal(t, []string{"job-1"}, f.tokens.Released())
	require.Equal(t, []events.Type{events.TypeJobFinished}, f.emitter.Types())
	require.Empty(t, f.blobs.Paths(), "inline execution writes no artifact")
}

func TestExecuteStopBeforeStart(t *testing.T) {
	t.Parallel()

	runner := &fakeEmails{pages: 3}
	f := newFixture(t, runner, nil)
	item := f.create(t, "job-stop", harvest.KindEmailScrape, emailParams())

	out := f.worker.Execute(context.Background(), item, stopSignal(true))

	require.ErrorIs(t, out.Err, harvest.ErrCancelled)
	require.Equal(t, harvest.JobStatusStopped, out.Status)
	require.Zero(t, runner.calls.Load())

	job, err := f.jobs.GetJob(context.Background(), "job-stop")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusStopped, job.Status)
	require.Zero(t, job.CurrentRow)
	require.Nil(t, job.TotalRows)
	require.Empty(t, job.ErrorMessage)
}

func TestExecuteMapsRunnerErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     error
		status  harvest.JobStatus
		message string
	}{
		{name: "cancelled", err: fmt.Errorf("crawl stopped: %w", harvest.ErrCancelled), status: harvest.JobStatusStopped},
		{
			name:    "fatal",
			err:     fmt.Errorf("open browser session: %w", harvest.ErrFatalWorker),
			status:  harvest.JobStatusFailed,
			message: "open browser session: fatal worker error",
		},
		{
			name:    "invalid",
			err:     fmt.Errorf("geocode: %w", harvest.ErrInvalidInput),
			status:  harvest.JobStatusFailed,
			message: "geocode: invalid input",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &fakeEmails{pages: 1, err: tc.err}, nil)
			item := f.create(t, "job-"+tc.name, harvest.KindEmailScrape, emailParams())

			out := f.worker.Execute(context.Background(), item, nil)
			require.Equal(t, tc.status, out.Status)

			job, err := f.jobs.GetJob(context.Background(), item.JobID)
			require.NoError(t, err)
			require.Equal(t, tc.status, job.Status)
			require.Equal(t, tc.message, job.ErrorMessage)
		})
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEmails{panic: true}, nil)
	item := f.create(t, "job-panic", harvest.KindEmailScrape, emailParams())

	out := f.worker.Execute(context.Background(), item, nil)

	require.ErrorIs(t, out.Err, harvest.ErrFatalWorker)
	job, err := f.jobs.GetJob(context.Background(), "job-panic")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorMessage, "boom")
}

func TestExecuteDirectoryJobEmitsLeads(t *testing.T) {
	t.Parallel()

	places := &fakePlaces{leads: []harvest.Lead{
		{PlaceID: "p1", Name: "Hotel Butrinti", Status: harvest.LeadStatusScraped},
		{PlaceID: "p2", Name: "Villa Sarande", Status: harvest.LeadStatusFailed},
	}}
	f := newFixture(t, nil, places)
	params := harvest.JobParameters{Directory: &harvest.DirectoryParams{Location: "Sarande", Radius: 300, MaxPlaces: 20}}
	item := f.create(t, "job-dir", harvest.KindDirectoryScrape, params)

	out := f.worker.Execute(context.Background(), item, nil)

	require.NoError(t, out.Err)
	require.Equal(t, 2, out.Places.Stored)
	require.Equal(t, []events.Type{events.TypeLeadStored, events.TypeLeadStored, events.TypeJobFinished}, f.emitter.Types())
	job, err := f.jobs.GetJob(context.Background(), "job-dir")
	require.NoError(t, err)
	require.Equal(t, 2, job.CurrentRow)
	require.Equal(t, harvest.JobStatusCompleted, job.Status)
}

func TestExecuteMissingParametersFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEmails{}, nil)
	item := f.create(t, "job-dir", harvest.KindDirectoryScrape,
		harvest.JobParameters{Directory: &harvest.DirectoryParams{Location: "Sarande", Radius: 300, MaxPlaces: 20}})

	out := f.worker.Execute(context.Background(), item, nil)
	require.ErrorIs(t, out.Err, harvest.ErrFatalWorker)
	require.Equal(t, harvest.JobStatusFailed, out.Status)
}

func TestExecuteOnTerminalJobIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEmails{pages: 0}, nil)
	item := f.create(t, "job-done", harvest.KindEmailScrape, emailParams())
	require.NoError(t, f.jobs.UpdateJob(context.Background(), "job-done",
		harvest.JobUpdate{Status: harvest.StatusPtr(harvest.JobStatusStopped)}))

	out := f.worker.Execute(context.Background(), item, nil)
	require.True(t, errors.Is(out.Err, harvest.ErrTerminal))

	job, err := f.jobs.GetJob(context.Background(), "job-done")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusStopped, job.Status)
}

func TestRunWritesArtifactForQueuedEmailJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, &fakeEmails{emails: []string{"info@hotel.al"}, pages: 1}, nil)
	item := f.create(t, "job-async", harvest.KindEmailScrape, emailParams())
	require.NoError(t, f.queue.Enqueue(ctx, item))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, ok := f.blobs.Object("results/job-async/emails.json")
		return ok
	}, time.Second, 10*time.Millisecond)

	body, _ := f.blobs.Object("results/job-async/emails.json")
	var artifact emailsArtifact
	require.NoError(t, json.Unmarshal(body, &artifact))
	require.Equal(t, "job-async", artifact.JobID)
	require.Equal(t, "https://hotel.al", artifact.Input)
	require.Equal(t, []string{"info@hotel.al"}, artifact.Emails)
	require.False(t, artifact.WrittenAt.IsZero())

	f.queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestRunHonoursQueuedStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeEmails{pages: 2}
	f := newFixture(t, runner, nil)
	item := f.create(t, "job-queued", harvest.KindEmailScrape, emailParams())
	f.tokens.stopped["job-queued"] = true
	require.NoError(t, f.queue.Enqueue(ctx, item))

	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := f.jobs.GetJob(ctx, "job-queued")
		return err == nil && job.Status == harvest.JobStatusStopped
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, runner.calls.Load())
	require.Empty(t, f.blobs.Paths())
}
