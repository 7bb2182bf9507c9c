package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const leadColumns = `id, job_id, place_id, location, name, address, phone, website, emails, status, created_at, updated_at`

// InsertLead stores lead unless the place id already exists.
func (s *Store) InsertLead(ctx context.Context, lead harvest.Lead) (harvest.Lead, error) {
	if strings.TrimSpace(lead.PlaceID) == "" {
		return harvest.Lead{}, fmt.Errorf("place id is required: %w", harvest.ErrInvalidInput)
	}
	now := s.now()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	err := s.db.QueryRowContext(ctx, `
INSERT INTO leads (job_id, place_id, location, name, address, phone, website, emails, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (place_id) DO NOTHING
RETURNING id`,
		lead.JobID, lead.PlaceID, lead.Location, lead.Name, lead.Address, lead.Phone,
		lead.Website, lead.Emails, string(lead.Status), toUnix(now), toUnix(now),
	).Scan(&lead.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return harvest.Lead{}, fmt.Errorf("place %s: %w", lead.PlaceID, harvest.ErrDuplicate)
	}
	if err != nil {
		return harvest.Lead{}, fmt.Errorf("insert lead %s: %w", lead.PlaceID, err)
	}
	return lead, nil
}

// HasPlace reports whether placeID is already stored.
func (s *Store) HasPlace(ctx context.Context, placeID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE place_id = ?`, placeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup place %s: %w", placeID, err)
	}
	return true, nil
}

// ListLeadsByJob returns the leads of one job in insertion order.
func (s *Store) ListLeadsByJob(ctx context.Context, jobID string) ([]harvest.Lead, error) {
	return s.queryLeads(ctx, `SELECT `+leadColumns+` FROM leads WHERE job_id = ? ORDER BY id`, jobID)
}

// ListEnrichmentCandidates returns leads with a website that still lack
// emails. A limit <= 0 returns every candidate.
func (s *Store) ListEnrichmentCandidates(ctx context.Context, limit int) ([]harvest.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads
WHERE website <> '' AND status <> ? AND (status <> ? OR emails = '')
ORDER BY id`
	args := []any{string(harvest.LeadStatusSkipped), string(harvest.LeadStatusScraped)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryLeads(ctx, query, args...)
}

// UpdateLeadEmails replaces the emails and status of a lead.
func (s *Store) UpdateLeadEmails(ctx context.Context, leadID int64, emails []string, status harvest.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET emails = ?, status = ?, updated_at = ? WHERE id = ?`,
		harvest.JoinEmails(emails), string(status), toUnix(s.now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead %d: %w", leadID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("lead %d: %w", leadID, harvest.ErrNotFound)
	}
	return nil
}

func (s *Store) queryLeads(ctx context.Context, query string, args ...any) ([]harvest.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var leads []harvest.Lead
	for rows.Next() {
		var (
			lead             harvest.Lead
			status           string
			created, updated int64
		)
		if err := rows.Scan(
			&lead.ID, &lead.JobID, &lead.PlaceID, &lead.Location, &lead.Name, &lead.Address,
			&lead.Phone, &lead.Website, &lead.Emails, &status, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		lead.Status = harvest.LeadStatus(status)
		lead.CreatedAt = fromUnix(created)
		lead.UpdatedAt = fromUnix(updated)
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}
