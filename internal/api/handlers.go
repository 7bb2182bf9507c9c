package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/contact-harvester/internal/enrich"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	maxBodyBytes    = 1 << 20
)

type emailJobRequest struct {
	URL      string `json:"url"`
	MaxPages *int   `json:"max_pages"`
	UseTor   *bool  `json:"use_anonymizing_network"`
	Headless *bool  `json:"headless"`
	Sync     bool   `json:"sync"`
}

type directoryJobRequest struct {
	Location  string             `json:"location"`
	Radius    *int               `json:"radius"`
	PlaceType string             `json:"place_type"`
	MaxPlaces *int               `json:"max_places"`
	Mode      harvest.SearchMode `json:"search_mode"`
}

type backfillRequest struct {
	MaxPages *int  `json:"max_pages"`
	UseTor   *bool `json:"use_anonymizing_network"`
	Headless *bool `json:"headless"`
	Limit    int   `json:"limit"`
}

type startedResponse struct {
	JobID  string `json:"job_id"`
	Input  string `json:"input"`
	Status string `json:"status"`
}

func (s *Server) submitEmailJob(w http.ResponseWriter, r *http.Request) {
	var req emailJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := harvest.EmailParams{
		URL:      harvest.EnsureScheme(req.URL),
		MaxPages: valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		UseTor:   valueOrDefault(req.UseTor, false),
		Headless: valueOrDefault(req.Headless, s.cfg.Browser.HeadlessDefault),
	}
	if req.Sync {
		res, err := s.service.ScrapeEmails(r.Context(), params)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	jobID, err := s.service.Submit(r.Context(), harvest.KindEmailScrape, harvest.JobParameters{Email: &params})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{JobID: jobID, Input: params.URL, Status: "started"})
}

func (s *Server) submitDirectoryJob(w http.ResponseWriter, r *http.Request) {
	var req directoryJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := harvest.DirectoryParams{
		Location:  req.Location,
		Radius:    valueOrDefault(req.Radius, s.cfg.Directory.RadiusDefault),
		PlaceType: req.PlaceType,
		MaxPlaces: valueOrDefault(req.MaxPlaces, s.cfg.Directory.MaxPlacesDefault),
		Mode:      req.Mode,
	}
	if params.PlaceType == "" {
		params.PlaceType = s.cfg.Directory.PlaceTypeDefault
	}
	jobID, err := s.service.Submit(r.Context(), harvest.KindDirectoryScrape, harvest.JobParameters{Directory: &params})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{JobID: jobID, Input: params.Location, Status: "started"})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Progress(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.service.Stop(r.Context(), jobID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(harvest.JobStatusStopped)})
}

func (s *Server) getLeads(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	leads, err := s.service.Leads(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "leads": leads})
}

// listJobs handles GET /v1/jobs?kind=&status=&limit=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultJobLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobLimit)
	}
	filter := harvest.JobFilter{
		Kind:   harvest.JobKind(q.Get("kind")),
		Status: harvest.JobStatus(q.Get("status")),
		Limit:  limit,
	}
	jobs, err := s.service.Jobs(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) backfillLeads(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.service.Backfill(r.Context(), enrich.Params{
		MaxPages: valueOrDefault(req.MaxPages, s.cfg.Crawler.BackfillMaxPages),
		UseTor:   valueOrDefault(req.UseTor, false),
		Headless: valueOrDefault(req.Headless, s.cfg.Browser.HeadlessDefault),
		Limit:    req.Limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// decodeBody reads a JSON body into dst. An empty body leaves dst unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
