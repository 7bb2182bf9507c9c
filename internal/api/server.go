package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/enrich"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/orchestrator"
)

// Service is the control plane the handlers drive.
type Service interface {
	Submit(ctx context.Context, kind harvest.JobKind, params harvest.JobParameters) (string, error)
	ScrapeEmails(ctx context.Context, params harvest.EmailParams) (orchestrator.SyncResult, error)
	Progress(ctx context.Context, jobID string) (harvest.JobView, error)
	Stop(ctx context.Context, jobID string) error
	Jobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.JobView, error)
	Leads(ctx context.Context, jobID string) ([]harvest.Lead, error)
	Backfill(ctx context.Context, params enrich.Params) (enrich.Report, error)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router  chi.Router
	service Service
	cfg     config.Config
	ready   []ReadyCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, cfg config.Config, logger *zap.Logger, ready ...ReadyCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		cfg:     cfg,
		ready:   ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout()))
			r.Post("/jobs/directory", s.submitDirectoryJob)
			r.Get("/jobs", s.listJobs)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/progress", s.getProgress)
				r.Post("/stop", s.stopJob)
				r.Get("/leads", s.getLeads)
			})
		})
		// Synchronous scrapes and backfills run for minutes.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.LongRequestTimeout()))
			r.Post("/jobs/email", s.submitEmailJob)
			r.Post("/leads/backfill", s.backfillLeads)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps sentinel errors onto status codes. Unexpected errors
// are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, harvest.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, harvest.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, harvest.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
