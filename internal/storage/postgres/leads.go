package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	leadColumns = `id, job_id, place_id, location, name, address, phone, website, emails, status, created_at, updated_at`

	insertLeadSQL = `INSERT INTO harvest_leads (job_id, place_id, location, name, address, phone, website, emails, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (place_id) DO NOTHING
RETURNING id`

	hasPlaceSQL = `SELECT EXISTS (SELECT 1 FROM harvest_leads WHERE place_id = $1)`

	leadsByJobSQL = `SELECT ` + leadColumns + ` FROM harvest_leads WHERE job_id = $1 ORDER BY id`

	enrichmentSQL = `SELECT ` + leadColumns + ` FROM harvest_leads
WHERE website <> '' AND status <> $2 AND (status <> $1 OR emails = '')
ORDER BY id
LIMIT $3`

	updateLeadEmailsSQL = `UPDATE harvest_leads SET emails = $1, status = $2, updated_at = $3 WHERE id = $4`
)

// InsertLead stores lead unless the place id already exists.
func (s *Store) InsertLead(ctx context.Context, lead harvest.Lead) (harvest.Lead, error) {
	if strings.TrimSpace(lead.PlaceID) == "" {
		return harvest.Lead{}, fmt.Errorf("place id is required: %w", harvest.ErrInvalidInput)
	}
	now := s.now()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	err := s.pool.QueryRow(ctx, insertLeadSQL,
		lead.JobID, lead.PlaceID, lead.Location, lead.Name, lead.Address, lead.Phone,
		lead.Website, lead.Emails, string(lead.Status), now,
	).Scan(&lead.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Lead{}, fmt.Errorf("place %s: %w", lead.PlaceID, harvest.ErrDuplicate)
	}
	if err != nil {
		return harvest.Lead{}, fmt.Errorf("insert lead %s: %w", lead.PlaceID, err)
	}
	return lead, nil
}

// HasPlace reports whether placeID is already stored.
func (s *Store) HasPlace(ctx context.Context, placeID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, hasPlaceSQL, placeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup place %s: %w", placeID, err)
	}
	return exists, nil
}

// ListLeadsByJob returns the leads of one job in insertion order.
func (s *Store) ListLeadsByJob(ctx context.Context, jobID string) ([]harvest.Lead, error) {
	return s.queryLeads(ctx, leadsByJobSQL, jobID)
}

// ListEnrichmentCandidates returns leads with a website that still lack
// emails. A limit <= 0 returns every candidate.
func (s *Store) ListEnrichmentCandidates(ctx context.Context, limit int) ([]harvest.Lead, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	return s.queryLeads(ctx, enrichmentSQL, string(harvest.LeadStatusScraped), string(harvest.LeadStatusSkipped), lim)
}

// UpdateLeadEmails replaces the emails and status of a lead.
func (s *Store) UpdateLeadEmails(ctx context.Context, leadID int64, emails []string, status harvest.LeadStatus) error {
	tag, err := s.pool.Exec(ctx, updateLeadEmailsSQL, harvest.JoinEmails(emails), string(status), s.now(), leadID)
	if err != nil {
		return fmt.Errorf("update lead %d: %w", leadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lead %d: %w", leadID, harvest.ErrNotFound)
	}
	return nil
}

func (s *Store) queryLeads(ctx context.Context, query string, args ...any) ([]harvest.Lead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []harvest.Lead
	for rows.Next() {
		var (
			lead   harvest.Lead
			status string
		)
		if err := rows.Scan(
			&lead.ID, &lead.JobID, &lead.PlaceID, &lead.Location, &lead.Name, &lead.Address,
			&lead.Phone, &lead.Website, &lead.Emails, &status, &lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		lead.Status = harvest.LeadStatus(status)
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}
