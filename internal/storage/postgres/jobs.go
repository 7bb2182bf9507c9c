package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const (
	jobColumns = `id, kind, input, params, status, current_row, total_rows, error_message, stop_requested, created_at, updated_at`

	insertJobSQL = `INSERT INTO harvest_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

	selectJobSQL = `SELECT ` + jobColumns + ` FROM harvest_jobs WHERE id = $1`

	lockJobSQL = selectJobSQL + ` FOR UPDATE`

	updateJobSQL = `UPDATE harvest_jobs
SET status = $1, current_row = $2, total_rows = $3, error_message = $4, stop_requested = $5, updated_at = $6
WHERE id = $7`

	listJobsSQL = `SELECT ` + jobColumns + ` FROM harvest_jobs
WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3`
)

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job harvest.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required: %w", harvest.ErrInvalidInput)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	tag, err := s.pool.Exec(ctx, insertJobSQL,
		job.ID, string(job.Kind), job.Input, params, string(job.Status),
		job.CurrentRow, job.TotalRows, job.ErrorMessage, job.StopRequested,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, harvest.ErrDuplicate)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, selectJobSQL, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Job{}, fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	if err != nil {
		return harvest.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateJob locks the row, applies update, and writes it back.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update harvest.JobUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job update: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	job, err := scanJob(tx.QueryRow(ctx, lockJobSQL, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	next, err := harvest.ApplyUpdate(job, update, s.now())
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, updateJobSQL,
		string(next.Status), next.CurrentRow, next.TotalRows, next.ErrorMessage,
		next.StopRequested, next.UpdatedAt, jobID,
	); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job %s: %w", jobID, err)
	}
	committed = true
	return nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, error) {
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, listJobsSQL, string(filter.Kind), string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (harvest.Job, error) {
	var (
		job          harvest.Job
		kind, status string
		params       []byte
		total        pgtype.Int8
	)
	if err := row.Scan(
		&job.ID, &kind, &job.Input, &params, &status, &job.CurrentRow, &total,
		&job.ErrorMessage, &job.StopRequested, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return harvest.Job{}, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return harvest.Job{}, fmt.Errorf("decode job params: %w", err)
	}
	job.Kind = harvest.JobKind(kind)
	job.Status = harvest.JobStatus(status)
	if total.Valid {
		job.TotalRows = harvest.IntPtr(int(total.Int64))
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}
