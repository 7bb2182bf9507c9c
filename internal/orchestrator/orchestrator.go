// Package orchestrator is the control plane for harvest jobs. It validates
// submissions, creates job records, registers cancellation tokens, hands work
// to the bounded worker pool and answers progress and stop requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/directory"
	"github.com/JakeFAU/contact-harvester/internal/enrich"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/worker"
)

// DefaultMaxPages is the email page budget when a caller leaves it unset.
const DefaultMaxPages = 10

// Pool runs queued work on a bounded set of workers.
type Pool interface {
	Run(ctx context.Context) error
	Submit(ctx context.Context, item harvest.QueueItem) error
	Pending() []harvest.QueueItem
}

// Executor runs one job inline.
type Executor interface {
	Execute(ctx context.Context, item harvest.QueueItem, stop harvest.StopSignal) worker.Outcome
}

// Backfiller runs lead enrichment passes.
type Backfiller interface {
	Backfill(ctx context.Context, params enrich.Params) (enrich.Report, error)
}

// Config carries submission defaults.
type Config struct {
	MaxPagesDefault int
	// Directory holds the radius, place type and cap applied to unset fields.
	Directory harvest.DirectoryParams
}

// SyncResult is returned by ScrapeEmails.
type SyncResult struct {
	JobID  string            `json:"job_id"`
	Input  string            `json:"input"`
	Emails []string          `json:"emails"`
	Status harvest.JobStatus `json:"status"`
}

// Orchestrator coordinates job submission and control.
type Orchestrator struct {
	jobs     harvest.JobStore
	leads    harvest.LeadStore
	registry *Registry
	pool     Pool
	exec     Executor
	backfill Backfiller
	ids      harvest.IDGenerator
	clock    harvest.Clock
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	poolErr chan error
}

// New wires an Orchestrator around an existing registry.
func New(
	jobs harvest.JobStore,
	leads harvest.LeadStore,
	registry *Registry,
	pool Pool,
	exec Executor,
	backfill Backfiller,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxPagesDefault <= 0 {
		cfg.MaxPagesDefault = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry(nil, logger)
	}
	return &Orchestrator{
		jobs:     jobs,
		leads:    leads,
		registry: registry,
		pool:     pool,
		exec:     exec,
		backfill: backfill,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start fails records left running by a previous process and launches the
// worker pool in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.recoverOrphans(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.poolErr = make(chan error, 1)
	go func() {
		o.poolErr <- o.pool.Run(runCtx)
	}()
	o.logger.Info("worker pool started")
	return nil
}

// Close stops the worker pool, fails queued jobs that never started and
// clears the registry.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.poolErr
	o.cancel = nil
	o.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("wait for worker pool: %w", ctx.Err())
		}
	}
	for _, item := range o.pool.Pending() {
		o.fail(ctx, item.JobID, errors.New("service shut down before the job started"))
	}
	o.registry.Clear()
	o.logger.Info("orchestrator closed")
	return err
}

// Submit validates params, creates the job record and queues the work. When
// the pool cannot take the work in time the record is failed and ErrBusy is
// returned together with the id of that record.
func (o *Orchestrator) Submit(ctx context.Context, kind harvest.JobKind, params harvest.JobParameters) (string, error) {
	params, err := o.prepare(kind, params)
	if err != nil {
		return "", err
	}
	job, err := o.create(ctx, kind, params)
	if err != nil {
		return "", err
	}
	o.registry.Register(job.ID)
	item := harvest.QueueItem{
		JobID:     job.ID,
		Kind:      kind,
		Params:    params,
		Submitted: job.CreatedAt.UnixNano(),
	}
	if err := o.pool.Submit(ctx, item); err != nil {
		o.registry.Release(ctx, job.ID)
		o.fail(ctx, job.ID, err)
		o.logger.Warn("job rejected", zap.String("job_id", job.ID), zap.Error(err))
		return job.ID, fmt.Errorf("queue job %s: %w", job.ID, err)
	}
	o.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("input", job.Input),
	)
	return job.ID, nil
}

// ScrapeEmails runs an email job on the caller's goroutine and returns the
// addresses it found alongside the terminal status.
func (o *Orchestrator) ScrapeEmails(ctx context.Context, params harvest.EmailParams) (SyncResult, error) {
	prepared, err := o.prepare(harvest.KindEmailScrape, harvest.JobParameters{Email: &params})
	if err != nil {
		return SyncResult{}, err
	}
	job, err := o.create(ctx, harvest.KindEmailScrape, prepared)
	if err != nil {
		return SyncResult{}, err
	}
	token := o.registry.Register(job.ID)
	out := o.exec.Execute(ctx, harvest.QueueItem{
		JobID:     job.ID,
		Kind:      harvest.KindEmailScrape,
		Params:    prepared,
		Submitted: job.CreatedAt.UnixNano(),
	}, token)
	emails := out.Emails
	if emails == nil {
		emails = []string{}
	}
	return SyncResult{JobID: job.ID, Input: job.Input, Emails: emails, Status: out.Status}, nil
}

// Progress returns the read model of a job.
func (o *Orchestrator) Progress(ctx context.Context, jobID string) (harvest.JobView, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return harvest.JobView{}, fmt.Errorf("progress for %s: %w", jobID, err)
	}
	return job.View(), nil
}

// Stop requests cancellation of a job. Stopping a finished job succeeds
// without effect; an unknown id yields ErrNotFound.
func (o *Orchestrator) Stop(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("stop %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil
	}
	local := o.registry.Raise(ctx, jobID)
	err = o.jobs.UpdateJob(ctx, jobID, harvest.JobUpdate{StopRequested: boolPtr(true)})
	if err != nil && !errors.Is(err, harvest.ErrTerminal) {
		return fmt.Errorf("record stop for %s: %w", jobID, err)
	}
	o.logger.Info("stop requested", zap.String("job_id", jobID), zap.Bool("active", local))
	return nil
}

// Jobs lists job views, newest first.
func (o *Orchestrator) Jobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.JobView, error) {
	jobs, err := o.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	views := make([]harvest.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	return views, nil
}

// Leads returns the leads stored by a directory job.
func (o *Orchestrator) Leads(ctx context.Context, jobID string) ([]harvest.Lead, error) {
	if _, err := o.jobs.GetJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("leads for %s: %w", jobID, err)
	}
	leads, err := o.leads.ListLeadsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("leads for %s: %w", jobID, err)
	}
	if leads == nil {
		leads = []harvest.Lead{}
	}
	return leads, nil
}

// Backfill runs an enrichment pass over stored leads.
func (o *Orchestrator) Backfill(ctx context.Context, params enrich.Params) (enrich.Report, error) {
	if o.backfill == nil {
		return enrich.Report{}, fmt.Errorf("backfill is not configured: %w", harvest.ErrFatalWorker)
	}
	report, err := o.backfill.Backfill(ctx, params)
	if err != nil {
		return report, fmt.Errorf("backfill: %w", err)
	}
	return report, nil
}

// prepare fills defaults, normalizes URLs and validates the variant.
func (o *Orchestrator) prepare(kind harvest.JobKind, params harvest.JobParameters) (harvest.JobParameters, error) {
	switch {
	case params.Email != nil:
		p := *params.Email
		p.URL = harvest.EnsureScheme(p.URL)
		if p.MaxPages == 0 {
			p.MaxPages = o.cfg.MaxPagesDefault
		}
		params.Email = &p
	case params.Directory != nil:
		p := *params.Directory
		p.Location = strings.TrimSpace(p.Location)
		def := o.cfg.Directory
		if p.Radius == 0 {
			p.Radius = def.Radius
		}
		if strings.TrimSpace(p.PlaceType) == "" {
			p.PlaceType = def.PlaceType
		}
		if p.MaxPlaces == 0 {
			p.MaxPlaces = def.MaxPlaces
		}
		p = directory.WithDefaults(p)
		params.Directory = &p
	}
	if err := params.Validate(kind); err != nil {
		return harvest.JobParameters{}, fmt.Errorf("submit %s: %w", kind, err)
	}
	return params, nil
}

func (o *Orchestrator) create(ctx context.Context, kind harvest.JobKind, params harvest.JobParameters) (harvest.Job, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return harvest.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := o.clock.Now()
	job := harvest.Job{
		ID:        id,
		Kind:      kind,
		Input:     params.Input(),
		Params:    params,
		Status:    harvest.JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("create job %s: %w", id, err)
	}
	return job, nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := o.jobs.UpdateJob(writeCtx, jobID, harvest.JobUpdate{
		Status:       harvest.StatusPtr(harvest.JobStatusFailed),
		ErrorMessage: harvest.StringPtr(cause.Error()),
	})
	if err != nil && !errors.Is(err, harvest.ErrTerminal) {
		o.logger.Error("fail job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) recoverOrphans(ctx context.Context) error {
	orphans, err := o.jobs.ListJobs(ctx, harvest.JobFilter{Status: harvest.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range orphans {
		if _, active := o.registry.Lookup(job.ID); active {
			continue
		}
		o.fail(ctx, job.ID, errors.New("interrupted by service restart"))
		o.logger.Warn("failed orphaned job", zap.String("job_id", job.ID))
	}
	return nil
}

func boolPtr(v bool) *bool {
	return &v
}
