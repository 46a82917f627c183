package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for asynchronous relight jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// Claim takes the oldest queued job, or an IN_PROGRESS job whose last
	// update is older than lease.
	Claim(ctx context.Context, lease time.Duration) (*Job, error)
	// Release puts an IN_PROGRESS job back in the queue.
	Release(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, output []byte) error
	Fail(ctx context.Context, jobID string, errMsg string, output []byte) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
}
