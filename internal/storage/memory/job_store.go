package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// JobStore provides an in-memory job store for development and tests.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock harvest.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs: make(map[string]harvest.Job),
		now:  now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required: %w", harvest.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, harvest.ErrDuplicate)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	return cloneJob(job), nil
}

// UpdateJob applies a partial update under the store lock.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update harvest.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	next, err := harvest.ApplyUpdate(job, update, s.now())
	if err != nil {
		return err
	}
	s.jobs[jobID] = next
	return nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter harvest.JobFilter) ([]harvest.Job, error) {
	s.mu.RLock()
	out := make([]harvest.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b harvest.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneJob(job harvest.Job) harvest.Job {
	if job.TotalRows != nil {
		job.TotalRows = harvest.IntPtr(*job.TotalRows)
	}
	if p := job.Params.Email; p != nil {
		c := *p
		job.Params.Email = &c
	}
	if p := job.Params.Directory; p != nil {
		c := *p
		job.Params.Directory = &c
	}
	return job
}
