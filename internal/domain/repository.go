package domain

import (
	"context"
	"time"
)

// JobRepository defines durable persistence for generation jobs. The
// orchestrator persists the aggregate after every stage so jobs survive
// process restarts and remain observable mid-flight.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	Update(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	// ClaimPending atomically takes the oldest pending job, or ErrNotFound.
	ClaimPending(ctx context.Context) (*GenerationJob, error)
	// ReclaimStale atomically takes a running job untouched for at least
	// olderThan, or ErrNotFound. The claimer resumes it at its persisted
	// stage.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (*GenerationJob, error)
	// RequestCancel sets the cooperative cancellation flag for a job.
	RequestCancel(ctx context.Context, jobID string) error
	// CancelRequested reports the flag; the orchestrator polls it at stage
	// and scene-batch boundaries.
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}
