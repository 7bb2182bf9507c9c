// Package enrich backfills email addresses for stored leads by crawling
// their websites after the directory job that found them has finished.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/engine"
	"github.com/JakeFAU/contact-harvester/internal/events"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

// DefaultMaxPages is the page budget for each lead's website.
const DefaultMaxPages = 30

// Result statuses reported per lead.
const (
	StatusScraped = "scraped"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Crawler crawls one website for addresses.
type Crawler interface {
	Crawl(ctx context.Context, run engine.Run) ([]string, error)
}

// Params configures one backfill pass.
type Params struct {
	MaxPages int  `json:"max_pages"`
	UseTor   bool `json:"use_anonymizing_network"`
	Headless bool `json:"headless"`
	// Limit caps how many candidates are processed; zero means all.
	Limit int `json:"limit,omitempty"`
}

// LeadResult is the outcome for one lead.
type LeadResult struct {
	LeadID  int64    `json:"lead_id"`
	PlaceID string   `json:"place_id"`
	Website string   `json:"website"`
	Emails  []string `json:"emails"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
}

// Report aggregates a backfill pass.
type Report struct {
	Processed   int          `json:"processed"`
	Enriched    int          `json:"enriched"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []LeadResult `json:"results"`
	ArtifactURI string       `json:"artifact_uri,omitempty"`
}

// Config controls the Enricher.
type Config struct {
	MaxPages       int
	ArtifactPrefix string
}

// Enricher runs backfill passes.
type Enricher struct {
	leads   harvest.LeadStore
	crawler Crawler
	blobs   harvest.BlobStore
	emitter events.Emitter
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New wires an Enricher. blobs and emitter may be nil.
func New(
	leads harvest.LeadStore,
	crawler Crawler,
	blobs harvest.BlobStore,
	emitter events.Emitter,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Enricher {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		leads:   leads,
		crawler: crawler,
		blobs:   blobs,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Backfill crawls the website of every lead that still lacks emails and
// stores what it finds. Cancelling ctx stops the pass between leads and
// returns the partial report with harvest.ErrCancelled.
func (e *Enricher) Backfill(ctx context.Context, params Params) (Report, error) {
	if params.MaxPages < 0 {
		return Report{}, fmt.Errorf("max_pages must be >= 0: %w", harvest.ErrInvalidInput)
	}
	if params.MaxPages == 0 {
		params.MaxPages = e.cfg.MaxPages
	}
	candidates, err := e.leads.ListEnrichmentCandidates(ctx, params.Limit)
	if err != nil {
		return Report{}, fmt.Errorf("list enrichment candidates: %w", err)
	}
	e.logger.Info("backfill started", zap.Int("candidates", len(candidates)), zap.Int("max_pages", params.MaxPages))

	report := Report{Results: make([]LeadResult, 0, len(candidates))}
	for _, lead := range candidates {
		if ctx.Err() != nil {
			e.logger.Info("backfill interrupted", zap.Int("processed", report.Processed))
			return report, fmt.Errorf("backfill interrupted after %d leads: %w: %w",
				report.Processed, harvest.ErrCancelled, ctx.Err())
		}
		result := e.enrichLead(ctx, lead, params)
		report.Processed++
		switch result.Status {
		case StatusSkipped:
			report.Skipped++
		case StatusFailed:
			report.Failed++
		default:
			if len(result.Emails) > 0 {
				report.Enriched++
			}
		}
		report.Results = append(report.Results, result)
	}

	report.ArtifactURI = e.writeReport(ctx, report)
	e.logger.Info("backfill finished",
		zap.Int("processed", report.Processed),
		zap.Int("enriched", report.Enriched),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (e *Enricher) enrichLead(ctx context.Context, lead harvest.Lead, params Params) LeadResult {
	logger := e.logger.With(zap.Int64("lead_id", lead.ID), zap.String("place_id", lead.PlaceID))
	result := LeadResult{
		LeadID:  lead.ID,
		PlaceID: lead.PlaceID,
		Website: lead.Website,
		Emails:  []string{},
	}
	site := harvest.BaseURL(lead.Website)
	if site == "" {
		result.Status = StatusSkipped
		logger.Debug("lead website is not crawlable", zap.String("website", lead.Website))
		if err := e.leads.UpdateLeadEmails(ctx, lead.ID, nil, harvest.LeadStatusSkipped); err != nil {
			logger.Error("mark lead skipped", zap.Error(err))
			result.Error = err.Error()
		}
		return result
	}

	emails, crawlErr := e.crawler.Crawl(ctx, engine.Run{
		JobID: "backfill-" + strconv.FormatInt(lead.ID, 10),
		Params: harvest.EmailParams{
			URL:      site,
			MaxPages: params.MaxPages,
			UseTor:   params.UseTor,
			Headless: params.Headless,
		},
	})
	status := harvest.LeadStatusScraped
	if crawlErr != nil {
		status = harvest.LeadStatusFailed
		emails = nil
		result.Error = crawlErr.Error()
		logger.Warn("lead crawl failed", zap.String("website", site), zap.Error(crawlErr))
	}
	if emails != nil {
		result.Emails = emails
	}
	result.Status = string(status)

	if err := e.leads.UpdateLeadEmails(ctx, lead.ID, emails, status); err != nil {
		logger.Error("update lead emails", zap.Error(err))
		result.Status = StatusFailed
		result.Error = errors.Join(crawlErr, err).Error()
		return result
	}
	metrics.ObserveEmails("backfill", len(emails))

	lead.Emails = harvest.JoinEmails(emails)
	lead.Status = status
	lead.UpdatedAt = e.clock.Now()
	e.emitter.Emit(events.LeadEnriched(lead, emails, result.Error, lead.UpdatedAt))
	return result
}

// writeReport stores the report as JSON and returns its URI, or "" when no
// blob store is configured or the write failed.
func (e *Enricher) writeReport(ctx context.Context, report Report) string {
	if e.blobs == nil {
		return ""
	}
	body, err := json.Marshal(report)
	if err != nil {
		e.logger.Error("encode backfill report", zap.Error(err))
		return ""
	}
	path := e.reportPath(e.clock.Now())
	uri, err := e.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(body))
	if err != nil {
		e.logger.Error("write backfill report", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (e *Enricher) reportPath(now time.Time) string {
	name := "backfill/" + now.UTC().Format("20060102T150405Z") + ".json"
	prefix := strings.Trim(e.cfg.ArtifactPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
