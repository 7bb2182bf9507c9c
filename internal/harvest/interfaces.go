package harvest

import (
	"context"
	"io"
	"net/http"
	"time"
)

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// LeadStore persists directory leads. Place ids are globally unique.
type LeadStore interface {
	InsertLead(ctx context.Context, lead Lead) (Lead, error)
	HasPlace(ctx context.Context, placeID string) (bool, error)
	ListLeadsByJob(ctx context.Context, jobID string) ([]Lead, error)
	ListEnrichmentCandidates(ctx context.Context, limit int) ([]Lead, error)
	UpdateLeadEmails(ctx context.Context, leadID int64, emails []string, status LeadStatus) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to a topic (Kafka, Pub/Sub, memory).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StopFlags mirrors stop requests into shared storage.
type StopFlags interface {
	Raise(ctx context.Context, jobID string) error
	Raised(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

// StopSignal is polled by workers at iteration boundaries.
type StopSignal interface {
	StopRequested(ctx context.Context) bool
}

// ProgressReporter receives progress from a single worker.
type ProgressReporter interface {
	SetTotal(ctx context.Context, total int) error
	Advance(ctx context.Context, current int) error
}

// Fetcher retrieves plain documents such as robots.txt and sitemaps.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Browser opens rendering sessions backed by a browser-automation driver.
type Browser interface {
	Open(ctx context.Context, opts BrowserOptions) (BrowserSession, error)
}

// BrowserSession visits pages within one driver instance.
type BrowserSession interface {
	Visit(ctx context.Context, url string) (Page, error)
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for pending jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Kind      JobKind
	Params    JobParameters
	Submitted int64
}

// FetchRequest captures everything needed to fetch a document.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// BrowserOptions are per-session driver flags.
type BrowserOptions struct {
	Headless bool
	UseTor   bool
}

// Page is a rendered document.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}
