// Package worker executes queued harvest jobs. A Worker picks the runner
// for the job kind, feeds it a store-backed progress reporter and the job's
// stop signal, and records the terminal state the runner's result implies.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/directory"
	"github.com/JakeFAU/contact-harvester/internal/engine"
	"github.com/JakeFAU/contact-harvester/internal/events"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/logging"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

const defaultFinalizeTimeout = 10 * time.Second

// EmailRunner crawls one site for addresses.
type EmailRunner interface {
	Crawl(ctx context.Context, run engine.Run) ([]string, error)
}

// DirectoryRunner enumerates places around a location.
type DirectoryRunner interface {
	Scrape(ctx context.Context, run directory.Run) (directory.Result, error)
}

// Tokens hands out per-job stop signals and forgets them once a job ends.
type Tokens interface {
	Signal(jobID string) harvest.StopSignal
	Release(ctx context.Context, jobID string)
}

// Config controls Worker behavior.
type Config struct {
	// ArtifactPrefix is prepended to emails.json paths in the blob store.
	ArtifactPrefix string
	// FinalizeTimeout bounds the terminal-state write after ctx ends.
	FinalizeTimeout time.Duration
}

// Outcome summarizes one executed job.
type Outcome struct {
	JobID    string
	Kind     harvest.JobKind
	Status   harvest.JobStatus
	Emails   []string
	Places   directory.Result
	Err      error
	Duration time.Duration
}

// Worker consumes queue items and runs them to a terminal state.
type Worker struct {
	queue     harvest.Queue
	jobStore  harvest.JobStore
	emails    EmailRunner
	places    DirectoryRunner
	tokens    Tokens
	blobStore harvest.BlobStore
	emitter   events.Emitter
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobs and emitter may be nil.
func New(
	queue harvest.Queue,
	jobStore harvest.JobStore,
	emails EmailRunner,
	places DirectoryRunner,
	tokens Tokens,
	blobs harvest.BlobStore,
	emitter events.Emitter,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		emails:    emails,
		places:    places,
		tokens:    tokens,
		blobStore: blobs,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("queue stopped", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("kind", string(item.Kind)))
		out := w.Execute(ctx, item, w.signal(item.JobID))
		if out.Kind == harvest.KindEmailScrape && out.Status == harvest.JobStatusCompleted {
			w.writeEmailsArtifact(ctx, item, out.Emails)
		}
	}
}

// Execute runs item on the calling goroutine and records its terminal state.
// The stop signal is checked before any work starts.
func (w *Worker) Execute(ctx context.Context, item harvest.QueueItem, stop harvest.StopSignal) Outcome {
	start := w.clock.Now()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	out := Outcome{JobID: item.JobID, Kind: item.Kind}
	if stop != nil && stop.StopRequested(ctx) {
		out.Err = fmt.Errorf("stop requested before start: %w", harvest.ErrCancelled)
	} else {
		out.Err = w.runSafely(ctx, item, stop, &out)
	}
	out.Status = statusFor(out.Err)
	out.Duration = w.clock.Now().Sub(start)
	w.finalize(ctx, item, &out)
	return out
}

func (w *Worker) runSafely(ctx context.Context, item harvest.QueueItem, stop harvest.StopSignal, out *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panic",
				zap.String("job_id", item.JobID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("worker panic: %v: %w", r, harvest.ErrFatalWorker)
		}
	}()

	progress := NewProgress(w.jobStore, item.JobID)
	switch item.Kind {
	case harvest.KindEmailScrape:
		if item.Params.Email == nil || w.emails == nil {
			return fmt.Errorf("email job %s has no runner or parameters: %w", item.JobID, harvest.ErrFatalWorker)
		}
		emails, runErr := w.emails.Crawl(ctx, engine.Run{
			JobID:    item.JobID,
			Params:   *item.Params.Email,
			Stop:     stop,
			Progress: progress,
			OnEmail: func(addr string) {
				w.logger.Debug("email found", zap.String("job_id", item.JobID), zap.String("email", addr))
			},
		})
		out.Emails = emails
		metrics.ObserveEmails(string(item.Kind), len(emails))
		return runErr
	case harvest.KindDirectoryScrape:
		if item.Params.Directory == nil || w.places == nil {
			return fmt.Errorf("directory job %s has no runner or parameters: %w", item.JobID, harvest.ErrFatalWorker)
		}
		result, runErr := w.places.Scrape(ctx, directory.Run{
			JobID:    item.JobID,
			Params:   *item.Params.Directory,
			Stop:     stop,
			Progress: progress,
			OnLead: func(lead harvest.Lead) {
				w.emitter.Emit(events.LeadStored(lead, w.clock.Now()))
			},
		})
		out.Places = result
		return runErr
	default:
		return fmt.Errorf("unknown job kind %q: %w", item.Kind, harvest.ErrInvalidInput)
	}
}

// statusFor maps a runner result onto the lifecycle.
func statusFor(err error) harvest.JobStatus {
	switch {
	case err == nil:
		return harvest.JobStatusCompleted
	case errors.Is(err, harvest.ErrCancelled):
		return harvest.JobStatusStopped
	default:
		return harvest.JobStatusFailed
	}
}

func (w *Worker) finalize(ctx context.Context, item harvest.QueueItem, out *Outcome) {
	logger := logging.ForJob(w.logger, item.JobID, item.Kind)
	// The terminal write must land even when ctx was cancelled by shutdown.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FinalizeTimeout)
	defer cancel()

	update := harvest.JobUpdate{Status: harvest.StatusPtr(out.Status)}
	if out.Status == harvest.JobStatusFailed {
		update.ErrorMessage = harvest.StringPtr(out.Err.Error())
	}
	if err := w.jobStore.UpdateJob(writeCtx, item.JobID, update); err != nil {
		if errors.Is(err, harvest.ErrTerminal) {
			logger.Debug("job already terminal", zap.Error(err))
		} else {
			logger.Error("final job status update failed", zap.Error(err))
		}
	}
	if w.tokens != nil {
		w.tokens.Release(writeCtx, item.JobID)
	}
	metrics.ObserveJob(string(item.Kind), string(out.Status))

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.Duration("duration", out.Duration),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	switch item.Kind {
	case harvest.KindEmailScrape:
		fields = append(fields, zap.Int("emails", len(out.Emails)))
	case harvest.KindDirectoryScrape:
		fields = append(fields,
			zap.Int("stored", out.Places.Stored),
			zap.Int("failed", out.Places.Failed),
			zap.Int("skipped", out.Places.Skipped),
		)
	}
	logger.Info("job finished", fields...)

	job, err := w.jobStore.GetJob(writeCtx, item.JobID)
	if err != nil {
		logger.Warn("load finished job", zap.Error(err))
		return
	}
	w.emitter.Emit(events.JobFinished(job, out.Duration, out.Emails, w.clock.Now()))
}

func (w *Worker) signal(jobID string) harvest.StopSignal {
	if w.tokens == nil {
		return nil
	}
	return w.tokens.Signal(jobID)
}

type emailsArtifact struct {
	JobID     string    `json:"job_id"`
	Input     string    `json:"input"`
	Emails    []string  `json:"emails"`
	WrittenAt time.Time `json:"written_at"`
}

func (w *Worker) writeEmailsArtifact(ctx context.Context, item harvest.QueueItem, emails []string) {
	if w.blobStore == nil {
		return
	}
	if emails == nil {
		emails = []string{}
	}
	body, err := json.Marshal(emailsArtifact{
		JobID:     item.JobID,
		Input:     item.Params.Input(),
		Emails:    emails,
		WrittenAt: w.clock.Now(),
	})
	if err != nil {
		w.logger.Error("encode emails artifact", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	path := w.buildArtifactPath(item.JobID)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FinalizeTimeout)
	defer cancel()
	uri, err := w.blobStore.PutObject(writeCtx, path, "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Error("write emails artifact", zap.String("job_id", item.JobID), zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("emails artifact written", zap.String("job_id", item.JobID), zap.String("uri", uri))
}

func (w *Worker) buildArtifactPath(jobID string) string {
	prefix := strings.Trim(w.cfg.ArtifactPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/emails.json", jobID)
	}
	return fmt.Sprintf("%s/%s/emails.json", prefix, jobID)
}
