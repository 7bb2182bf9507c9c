package worker

import (
	"context"
	"fmt"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Progress writes a runner's progress straight into the job store. Each job
// has exactly one Progress, owned by the goroutine running it.
type Progress struct {
	jobs  harvest.JobStore
	jobID string
}

// NewProgress binds a reporter to jobID.
func NewProgress(jobs harvest.JobStore, jobID string) *Progress {
	return &Progress{jobs: jobs, jobID: jobID}
}

// SetTotal records total_rows once the work size is known.
func (p *Progress) SetTotal(ctx context.Context, total int) error {
	if err := p.jobs.UpdateJob(ctx, p.jobID, harvest.JobUpdate{TotalRows: harvest.IntPtr(total)}); err != nil {
		return fmt.Errorf("set total rows for %s: %w", p.jobID, err)
	}
	return nil
}

// Advance records current_row.
func (p *Progress) Advance(ctx context.Context, current int) error {
	if err := p.jobs.UpdateJob(ctx, p.jobID, harvest.JobUpdate{CurrentRow: harvest.IntPtr(current)}); err != nil {
		return fmt.Errorf("advance job %s to %d: %w", p.jobID, current, err)
	}
	return nil
}
