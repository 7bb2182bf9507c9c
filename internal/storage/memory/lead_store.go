package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// LeadStore keeps leads in insertion order with a unique place id index.
type LeadStore struct {
	mu      sync.RWMutex
	nextID  int64
	leads   []harvest.Lead
	byPlace map[string]int
	byID    map[int64]int
	now     func() time.Time
}

// NewLeadStore constructs a LeadStore. A nil clock uses UTC wall time.
func NewLeadStore(clock harvest.Clock) *LeadStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &LeadStore{
		byPlace: make(map[string]int),
		byID:    make(map[int64]int),
		now:     now,
	}
}

// InsertLead stores lead unless its place id is already known, in which case
// harvest.ErrDuplicate is returned.
func (s *LeadStore) InsertLead(_ context.Context, lead harvest.Lead) (harvest.Lead, error) {
	if strings.TrimSpace(lead.PlaceID) == "" {
		return harvest.Lead{}, fmt.Errorf("place id is required: %w", harvest.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPlace[lead.PlaceID]; ok {
		return harvest.Lead{}, fmt.Errorf("place %s: %w", lead.PlaceID, harvest.ErrDuplicate)
	}
	s.nextID++
	now := s.now()
	lead.ID = s.nextID
	lead.CreatedAt = now
	lead.UpdatedAt = now
	s.byPlace[lead.PlaceID] = len(s.leads)
	s.byID[lead.ID] = len(s.leads)
	s.leads = append(s.leads, lead)
	return lead, nil
}

// HasPlace reports whether placeID is already stored.
func (s *LeadStore) HasPlace(_ context.Context, placeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPlace[placeID]
	return ok, nil
}

// ListLeadsByJob returns the leads of one job in insertion order.
func (s *LeadStore) ListLeadsByJob(_ context.Context, jobID string) ([]harvest.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Lead
	for _, lead := range s.leads {
		if lead.JobID == jobID {
			out = append(out, lead)
		}
	}
	return out, nil
}

// ListEnrichmentCandidates returns up to limit leads that still need emails.
// A limit <= 0 returns every candidate.
func (s *LeadStore) ListEnrichmentCandidates(_ context.Context, limit int) ([]harvest.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Lead
	for _, lead := range s.leads {
		if !lead.NeedsEnrichment() {
			continue
		}
		out = append(out, lead)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpdateLeadEmails replaces the emails and status of a lead.
func (s *LeadStore) UpdateLeadEmails(_ context.Context, leadID int64, emails []string, status harvest.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[leadID]
	if !ok {
		return fmt.Errorf("lead %d: %w", leadID, harvest.ErrNotFound)
	}
	s.leads[idx].Emails = harvest.JoinEmails(emails)
	s.leads[idx].Status = status
	s.leads[idx].UpdatedAt = s.now()
	return nil
}
