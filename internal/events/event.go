package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Type names a notification.
type Type string

// Supported event types.
const (
	TypeJobFinished  Type = "job.finished"
	TypeLeadStored   Type = "lead.stored"
	TypeLeadEnriched Type = "lead.enriched"
)

// Event is one notification. Its JSON form is what brokers receive.
type Event struct {
	Type  Type            `json:"type"`
	TS    time.Time       `json:"ts"`
	JobID string          `json:"job_id,omitempty"`
	Kind  harvest.JobKind `json:"kind,omitempty"`
	// Status is the terminal job status or the lead status.
	Status     string        `json:"status,omitempty"`
	CurrentRow int           `json:"current_row,omitempty"`
	TotalRows  *int          `json:"total_rows,omitempty"`
	Dur        time.Duration `json:"duration_ns,omitempty"`
	Emails     []string      `json:"emails,omitempty"`
	Lead       *harvest.Lead `json:"lead,omitempty"`
	// Note carries the error message of failed jobs and leads.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeJobFinished:
		if e.JobID == "" {
			return errors.New("job.finished requires job id")
		}
		if e.Status == "" {
			return errors.New("job.finished requires status")
		}
	case TypeLeadStored, TypeLeadEnriched:
		if e.Lead == nil {
			return fmt.Errorf("%s requires lead", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PartitionKey groups events of one job (or one place) on a broker.
func (e Event) PartitionKey() string {
	if e.Lead != nil && e.Lead.PlaceID != "" {
		return e.Lead.PlaceID
	}
	return e.JobID
}

// JobFinished builds the notification sent when a job reaches a terminal state.
func JobFinished(job harvest.Job, dur time.Duration, emails []string, now time.Time) Event {
	return Event{
		Type:       TypeJobFinished,
		TS:         now,
		JobID:      job.ID,
		Kind:       job.Kind,
		Status:     string(job.Status),
		CurrentRow: job.CurrentRow,
		TotalRows:  job.TotalRows,
		Dur:        dur,
		Emails:     emails,
		Note:       job.ErrorMessage,
	}
}

// LeadStored builds the notification for a newly inserted lead.
func LeadStored(lead harvest.Lead, now time.Time) Event {
	return Event{
		Type:   TypeLeadStored,
		TS:     now,
		JobID:  lead.JobID,
		Kind:   harvest.KindDirectoryScrape,
		Status: string(lead.Status),
		Lead:   &lead,
	}
}

// LeadEnriched builds the notification for a backfilled lead.
func LeadEnriched(lead harvest.Lead, emails []string, note string, now time.Time) Event {
	return Event{
		Type:   TypeLeadEnriched,
		TS:     now,
		JobID:  lead.JobID,
		Status: string(lead.Status),
		Emails: emails,
		Lead:   &lead,
		Note:   note,
	}
}
