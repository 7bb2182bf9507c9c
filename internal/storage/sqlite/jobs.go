package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const jobColumns = `id, kind, input, params, status, current_row, total_rows, error_message, stop_requested, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

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
	var total sql.NullInt64
	if job.TotalRows != nil {
		total = sql.NullInt64{Int64: int64(*job.TotalRows), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		job.ID, string(job.Kind), job.Input, string(params), string(job.Status),
		job.CurrentRow, total, job.ErrorMessage, job.StopRequested,
		toUnix(job.CreatedAt), toUnix(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, harvest.ErrDuplicate)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return harvest.Job{}, fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	if err != nil {
		return harvest.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateJob reads, validates, and writes the job inside one transaction.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update harvest.JobUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	next, err := harvest.ApplyUpdate(job, update, s.now())
	if err != nil {
		return err
	}
	var total sql.NullInt64
	if next.TotalRows != nil {
		total = sql.NullInt64{Int64: int64(*next.TotalRows), Valid: true}
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, current_row = ?, total_rows = ?, error_message = ?, stop_requested = ?, updated_at = ?
WHERE id = ?`,
		string(next.Status), next.CurrentRow, total, next.ErrorMessage, next.StopRequested,
		toUnix(next.UpdatedAt), jobID,
	); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit job %s: %w", jobID, err)
	}
	return nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE (? = '' OR kind = ?) AND (? = '' OR status = ?) ORDER BY created_at DESC, id`
	args := []any{string(filter.Kind), string(filter.Kind), string(filter.Status), string(filter.Status)}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func scanJob(row rowScanner) (harvest.Job, error) {
	var (
		job              harvest.Job
		kind, status     string
		params           string
		total            sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(
		&job.ID, &kind, &job.Input, &params, &status, &job.CurrentRow, &total,
		&job.ErrorMessage, &job.StopRequested, &created, &updated,
	); err != nil {
		return harvest.Job{}, err
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return harvest.Job{}, fmt.Errorf("decode job params: %w", err)
	}
	job.Kind = harvest.JobKind(kind)
	job.Status = harvest.JobStatus(status)
	if total.Valid {
		job.TotalRows = harvest.IntPtr(int(total.Int64))
	}
	job.CreatedAt = fromUnix(created)
	job.UpdatedAt = fromUnix(updated)
	return job, nil
}
