package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relight/internal/domain"
	"relight/internal/infra"
	"relight/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a job repository. db is normally an *infra.SQLRunner.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, sqlinline.QCreateJobsTable)
	return err
}

// Create inserts a queued job.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	status := job.Status
	if status == "" {
		status = domain.JobStatusQueued
	}
	_, err := r.db.Exec(ctx, sqlinline.QInsertJob, job.ID, string(status), []byte(job.InputJSON))
	return err
}

// Claim moves the oldest queued job to IN_PROGRESS and returns it, or
// domain.ErrNotFound when the queue is empty. Jobs left IN_PROGRESS longer
// than lease by a worker that died are claimed again.
func (r *JobRepositoryPG) Claim(ctx context.Context, lease time.Duration) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		input  []byte
	)
	err := r.db.QueryRow(ctx, sqlinline.QClaimJob, lease.Seconds()).Scan(&job.ID, &status, &input, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.InputJSON = append(json.RawMessage(nil), input...)
	return &job, nil
}

// Release returns an interrupted job to the queue.
func (r *JobRepositoryPG) Release(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, sqlinline.QReleaseJob, jobID)
	return err
}

// Complete stores the job output and marks it COMPLETED.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, output []byte) error {
	_, err := r.db.Exec(ctx, sqlinline.QCompleteJob, jobID, nullableBytes(output))
	return err
}

// Fail marks the job FAILED with errMsg and an optional structured output.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, errMsg string, output []byte) error {
	_, err := r.db.Exec(ctx, sqlinline.QFailJob, jobID, errMsg, nullableBytes(output))
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		input  []byte
		output []byte
	)
	err := r.db.QueryRow(ctx, sqlinline.QGetJob, jobID).Scan(
		&job.ID,
		&status,
		&input,
		&output,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.InputJSON = append(json.RawMessage(nil), input...)
	if len(output) > 0 && string(output) != "null" {
		job.OutputJSON = append(json.RawMessage(nil), output...)
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
