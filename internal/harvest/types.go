package harvest

import (
	"fmt"
	"strings"
	"time"
)

// JobKind selects which worker runs a job and which parameter variant applies.
type JobKind string

// Supported job kinds.
const (
	KindEmailScrape     JobKind = "email_scrape"
	KindDirectoryScrape JobKind = "google_maps_scrape"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// SearchMode selects the directory search API.
type SearchMode string

// Directory search modes.
const (
	SearchModeNearby SearchMode = "nearby"
	SearchModeText   SearchMode = "text"
)

// EmailParams configures an email_scrape job.
type EmailParams struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
	UseTor   bool   `json:"use_anonymizing_network"`
	Headless bool   `json:"headless"`
}

// Validate checks the fields required before a job is created.
func (p EmailParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("url is required: %w", ErrInvalidInput)
	}
	if p.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be > 0: %w", ErrInvalidInput)
	}
	return nil
}

// DirectoryParams configures a google_maps_scrape job.
type DirectoryParams struct {
	Location  string     `json:"location"`
	Radius    int        `json:"radius"`
	PlaceType string     `json:"place_type"`
	MaxPlaces int        `json:"max_places"`
	Mode      SearchMode `json:"search_mode"`
}

// Validate checks the fields required before a job is created.
func (p DirectoryParams) Validate() error {
	if strings.TrimSpace(p.Location) == "" {
		return fmt.Errorf("location is required: %w", ErrInvalidInput)
	}
	if p.Radius <= 0 {
		return fmt.Errorf("radius must be > 0: %w", ErrInvalidInput)
	}
	if p.MaxPlaces <= 0 {
		return fmt.Errorf("max_places must be > 0: %w", ErrInvalidInput)
	}
	switch p.Mode {
	case "", SearchModeNearby, SearchModeText:
	default:
		return fmt.Errorf("unknown search_mode %q: %w", p.Mode, ErrInvalidInput)
	}
	return nil
}

// JobParameters is a tagged variant: exactly one field is set, matching the
// job kind.
type JobParameters struct {
	Email     *EmailParams     `json:"email,omitempty"`
	Directory *DirectoryParams `json:"directory,omitempty"`
}

// Validate ensures the variant matches kind and that its fields are usable.
func (p JobParameters) Validate(kind JobKind) error {
	switch kind {
	case KindEmailScrape:
		if p.Email == nil || p.Directory != nil {
			return fmt.Errorf("email_scrape requires email parameters: %w", ErrInvalidInput)
		}
		return p.Email.Validate()
	case KindDirectoryScrape:
		if p.Directory == nil || p.Email != nil {
			return fmt.Errorf("google_maps_scrape requires directory parameters: %w", ErrInvalidInput)
		}
		return p.Directory.Validate()
	default:
		return fmt.Errorf("unknown job kind %q: %w", kind, ErrInvalidInput)
	}
}

// Input returns the primary input for the variant: URL or location.
func (p JobParameters) Input() string {
	switch {
	case p.Email != nil:
		return p.Email.URL
	case p.Directory != nil:
		return p.Directory.Location
	default:
		return ""
	}
}

// Job is the record persisted for each submission.
type Job struct {
	ID            string        `json:"job_id"`
	Kind          JobKind       `json:"kind"`
	Input         string        `json:"input"`
	Params        JobParameters `json:"params"`
	Status        JobStatus     `json:"status"`
	CurrentRow    int           `json:"current_row"`
	TotalRows     *int          `json:"total_rows"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	StopRequested bool          `json:"stop_requested"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	CurrentRow    *int
	TotalRows     *int
	Status        *JobStatus
	ErrorMessage  *string
	StopRequested *bool
}

// ApplyUpdate returns job with update applied, enforcing the lifecycle rules:
// terminal states are absorbing, status only leaves running, current_row
// never decreases and never exceeds a known total_rows.
func ApplyUpdate(job Job, update JobUpdate, now time.Time) (Job, error) {
	if job.Status.Terminal() {
		return job, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, ErrTerminal)
	}
	if update.TotalRows != nil {
		if *update.TotalRows < 0 {
			return job, fmt.Errorf("total_rows must be >= 0: %w", ErrInvalidInput)
		}
		job.TotalRows = IntPtr(*update.TotalRows)
	}
	if update.CurrentRow != nil {
		if *update.CurrentRow < job.CurrentRow {
			return job, fmt.Errorf("current_row cannot move from %d to %d: %w",
				job.CurrentRow, *update.CurrentRow, ErrInvalidInput)
		}
		job.CurrentRow = *update.CurrentRow
	}
	if job.TotalRows != nil && job.CurrentRow > *job.TotalRows {
		return job, fmt.Errorf("current_row %d exceeds total_rows %d: %w",
			job.CurrentRow, *job.TotalRows, ErrInvalidInput)
	}
	if update.Status != nil {
		if *update.Status != JobStatusRunning && !update.Status.Terminal() {
			return job, fmt.Errorf("unknown status %q: %w", *update.Status, ErrInvalidInput)
		}
		job.Status = *update.Status
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.StopRequested != nil {
		job.StopRequested = *update.StopRequested
	}
	job.UpdatedAt = now
	return job, nil
}

// JobView is the read model returned to progress callers.
type JobView struct {
	JobID        string    `json:"job_id"`
	StepID       string    `json:"step_id"`
	Input        string    `json:"input"`
	MaxPages     int       `json:"max_pages,omitempty"`
	UseTor       bool      `json:"use_anonymizing_network"`
	Headless     bool      `json:"headless"`
	Radius       int       `json:"radius,omitempty"`
	PlaceType    string    `json:"place_type,omitempty"`
	MaxPlaces    int       `json:"max_places,omitempty"`
	CurrentRow   int       `json:"current_row"`
	TotalRows    *int      `json:"total_rows"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// View projects a Job onto its read model.
func (j Job) View() JobView {
	view := JobView{
		JobID:        j.ID,
		StepID:       string(j.Kind),
		Input:        j.Input,
		CurrentRow:   j.CurrentRow,
		TotalRows:    j.TotalRows,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		UpdatedAt:    j.UpdatedAt,
	}
	if p := j.Params.Email; p != nil {
		view.MaxPages = p.MaxPages
		view.UseTor = p.UseTor
		view.Headless = p.Headless
	}
	if p := j.Params.Directory; p != nil {
		view.Radius = p.Radius
		view.PlaceType = p.PlaceType
		view.MaxPlaces = p.MaxPlaces
	}
	return view
}

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Kind   JobKind
	Status JobStatus
	Limit  int
}

// LeadStatus tracks the per-lead scrape outcome.
type LeadStatus string

// Lead status values. An empty status means the lead was never processed.
const (
	LeadStatusPending LeadStatus = ""
	LeadStatusScraped LeadStatus = "scraped"
	LeadStatusFailed  LeadStatus = "failed"
	// LeadStatusSkipped marks a lead whose website is not a business site.
	LeadStatusSkipped LeadStatus = "skipped"
)

// Lead is one directory entry discovered for a google_maps_scrape job.
type Lead struct {
	ID        int64      `json:"lead_id"`
	JobID     string     `json:"job_id"`
	PlaceID   string     `json:"place_id"`
	Location  string     `json:"location"`
	Name      string     `json:"name"`
	Address   string     `json:"address"`
	Phone     string     `json:"phone"`
	Website   string     `json:"website"`
	Emails    string     `json:"emails,omitempty"`
	Status    LeadStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NeedsEnrichment reports whether the backfill pass should crawl this lead.
func (l Lead) NeedsEnrichment() bool {
	if strings.TrimSpace(l.Website) == "" || l.Status == LeadStatusSkipped {
		return false
	}
	return l.Status != LeadStatusScraped || strings.TrimSpace(l.Emails) == ""
}

// JoinEmails renders addresses in the comma-joined storage form.
func JoinEmails(emails []string) string {
	return strings.Join(emails, ",")
}

// SplitEmails parses the comma-joined storage form.
func SplitEmails(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int {
	return &v
}

// StatusPtr returns a pointer to a copy of s.
func StatusPtr(s JobStatus) *JobStatus {
	return &s
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
